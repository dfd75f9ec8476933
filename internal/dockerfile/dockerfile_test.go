package dockerfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/moby/buildkit/frontend/dockerfile/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	content := `# syntax=docker/dockerfile:1
ARG BASE_TAG=9.4
ARG REGISTRY

FROM quay.io/fedora/fedora:40 AS build
RUN dnf -y install make

FROM --platform=linux/arm64 quay.io/centos/centos:stream${BASE_TAG} AS runtime
COPY --from=build /out /out

FROM build
FROM scratch
FROM ${REGISTRY}/org/app:1
`
	froms, err := Parse(strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, froms, 5)

	build := froms[0]
	assert.Equal(t, "quay.io/fedora/fedora:40", build.Image)
	assert.Equal(t, "build", build.Stage)
	assert.False(t, build.Internal)
	assert.Equal(t, parser.Range{
		Start: parser.Position{Line: 4, Character: 5},
		End:   parser.Position{Line: 4, Character: 5 + len("quay.io/fedora/fedora:40")},
	}, build.Range)
	assert.Equal(t, 4, build.Line())

	runtime := froms[1]
	assert.Equal(t, "quay.io/centos/centos:stream${BASE_TAG}", runtime.Raw)
	assert.Equal(t, "quay.io/centos/centos:stream9.4", runtime.Image)
	assert.Equal(t, "linux/arm64", runtime.Platform)
	assert.Equal(t, 7, runtime.Range.Start.Line)
	assert.Equal(t, len("FROM --platform=linux/arm64 "), runtime.Range.Start.Character)

	assert.True(t, froms[2].Internal, "reference to an earlier stage")
	assert.True(t, froms[3].Internal, "scratch")

	unresolved := froms[4]
	assert.False(t, unresolved.Internal)
	assert.Contains(t, unresolved.Image, "${REGISTRY}")
}

func TestParse_ContinuationLine(t *testing.T) {
	content := "FROM \\\n  quay.io/org/app:1.2 \\\n  AS app\n"

	froms, err := Parse(strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, froms, 1)

	assert.Equal(t, "quay.io/org/app:1.2", froms[0].Image)
	assert.Equal(t, "app", froms[0].Stage)
	assert.Equal(t, 1, froms[0].Range.Start.Line)
	assert.Equal(t, 2, froms[0].Range.Start.Character)
}

func TestParse_ArgAfterFromIsNotGlobal(t *testing.T) {
	content := `FROM quay.io/org/base:1
ARG TAG=2
FROM quay.io/org/app:${TAG}
`
	froms, err := Parse(strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, froms, 2)
	assert.Equal(t, "quay.io/org/app:${TAG}", froms[1].Image)
}

func TestParse_DefaultValueExpansion(t *testing.T) {
	content := `ARG TAG
FROM quay.io/org/app:${TAG:-3.1}
`
	froms, err := Parse(strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, froms, 1)
	assert.Equal(t, "quay.io/org/app:3.1", froms[0].Image)
}

func TestParse_QuotedArgValue(t *testing.T) {
	content := `ARG TAG="1.0"
ARG NS='org'
FROM quay.io/${NS}/app:${TAG}
`
	froms, err := Parse(strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, froms, 1)
	assert.Equal(t, "quay.io/org/app:1.0", froms[0].Image)
}

func TestParse_EmptyArgValue(t *testing.T) {
	content := `ARG SUFFIX=
FROM quay.io/org/app:1.0${SUFFIX}
`
	froms, err := Parse(strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, froms, 1)
	assert.Equal(t, "quay.io/org/app:1.0", froms[0].Image)
}

func TestParse_ArgReferencesEarlierArg(t *testing.T) {
	content := `ARG MAJOR=3
ARG TAG=${MAJOR}.1
FROM quay.io/org/app:$TAG
`
	froms, err := Parse(strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, froms, 1)
	assert.Equal(t, "quay.io/org/app:3.1", froms[0].Image)
}

func TestParse_PartlyUnsetStaysUnresolved(t *testing.T) {
	content := `ARG TAG=1.0
ARG REGISTRY
FROM ${REGISTRY}/org/app:${TAG}
`
	froms, err := Parse(strings.NewReader(content))
	require.NoError(t, err)
	require.Len(t, froms, 1)
	assert.Equal(t, "${REGISTRY}/org/app:${TAG}", froms[0].Image)
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse(strings.NewReader(""))
	assert.Error(t, err)
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Dockerfile")
	require.NoError(t, os.WriteFile(path, []byte("FROM quay.io/org/app:1\n"), 0o644))

	froms, err := ParseFile(path)
	require.NoError(t, err)
	require.Len(t, froms, 1)
	assert.Equal(t, "quay.io/org/app:1", froms[0].Image)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestIndexToken(t *testing.T) {
	assert.Equal(t, 5, indexToken("FROM alpine AS alpine-build", "alpine"))
	assert.Equal(t, -1, indexToken("FROM alpine-build", "alpine"))
	assert.Equal(t, -1, indexToken("FROM alpine", ""))
}
