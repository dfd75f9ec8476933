package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
)

// Global variables for MCP client session
var (
	client  *mcp.Client
	session *mcp.ClientSession
	ctx     context.Context
)

func executeMCPTool(toolName string, args map[string]any) error {
	fmt.Printf("\n=== Executing %s tool ===\n", toolName)

	params := &mcp.CallToolParams{
		Name:      toolName,
		Arguments: args,
	}

	res, err := session.CallTool(ctx, params)
	if err != nil {
		return fmt.Errorf("CallTool failed for %s: %v", toolName, err)
	}

	if res.IsError {
		for _, c := range res.Content {
			if text, ok := c.(*mcp.TextContent); ok {
				return fmt.Errorf("%s tool failed: %s", toolName, text.Text)
			}
		}
		return fmt.Errorf("%s tool failed with unknown error", toolName)
	}

	for _, c := range res.Content {
		fmt.Printf("Result: %s\n", c.(*mcp.TextContent).Text)
	}
	return nil
}

func initMCPClient() error {
	ctx = context.Background()

	client = mcp.NewClient(
		&mcp.Implementation{Name: "basescan-cli", Version: "v1.0.0"},
		&mcp.ClientOptions{
			LoggingMessageHandler: func(ctx context.Context, req *mcp.LoggingMessageRequest) {
				fmt.Printf("[server log][%s] %v\n", req.Params.Level, req.Params.Data)
			},
		},
	)

	// Try to find the server binary in common locations
	serverPaths := []string{
		"./bin/basescan",
		"../bin/basescan",
		"./basescan",
		"basescan",
	}

	var serverPath string
	for _, path := range serverPaths {
		if _, err := os.Stat(path); err == nil {
			serverPath = path
			break
		}
	}

	if serverPath == "" {
		return fmt.Errorf("could not find basescan binary in any of: %v", serverPaths)
	}

	cmd := exec.Command(serverPath, "stdio")
	// Capture server's stderr for logging
	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %v", err)
	}
	// Start goroutine to read and log stderr
	go func() {
		scanner := bufio.NewScanner(stderrPipe)
		for scanner.Scan() {
			log.Printf("[server stderr] %s", scanner.Text())
		}
		if err := scanner.Err(); err != nil {
			log.Printf("Error reading server stderr: %v", err)
		}
	}()

	transport := &mcp.CommandTransport{Command: cmd}
	session, err = client.Connect(ctx, transport, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to MCP server: %v", err)
	}

	// Enable receiving log messages from the server
	err = session.SetLoggingLevel(ctx, &mcp.SetLoggingLevelParams{Level: "debug"})
	if err != nil {
		log.Printf("Warning: failed to set logging level: %v", err)
	}

	return nil
}

func main() {
	var rootCmd = &cobra.Command{
		Use:   "basescan-client",
		Short: "basescan MCP CLI - drive a basescan server by hand",
		Long: `basescan-client launches the basescan MCP server over stdio and calls its tools,
which is handy for exercising the editor integration without an editor.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if err := initMCPClient(); err != nil {
				log.Fatalf("Failed to initialize MCP client: %v", err)
			}
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if session != nil {
				session.Close()
			}
		},
	}

	// Version command
	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Get basescan version information",
		Run: func(cmd *cobra.Command, args []string) {
			if err := executeMCPTool("version", map[string]any{}); err != nil {
				log.Fatalf("Error executing version command: %v", err)
			}
		},
	}

	// Scan command
	var scanCmd = &cobra.Command{
		Use:   "scan-dockerfile PATH",
		Short: "Scan the base images of a Dockerfile",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			path, err := filepath.Abs(args[0])
			if err != nil {
				log.Fatalf("Error resolving %s: %v", args[0], err)
			}
			if err := executeMCPTool("scan-dockerfile", map[string]any{"path": path}); err != nil {
				log.Fatalf("Error executing scan-dockerfile command: %v", err)
			}
		},
	}

	// Open command: replays the editor lifecycle open -> diagnostics -> close
	var openCmd = &cobra.Command{
		Use:   "open PATH",
		Short: "Open a Dockerfile as an editor document and print its diagnostics",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			content, err := os.ReadFile(args[0])
			if err != nil {
				log.Fatalf("Error reading %s: %v", args[0], err)
			}
			uri := "file://" + filepath.ToSlash(args[0])
			if abs, err := filepath.Abs(args[0]); err == nil {
				uri = "file://" + filepath.ToSlash(abs)
			}
			if err := executeMCPTool("open-document", map[string]any{"uri": uri, "content": string(content), "wait": true}); err != nil {
				log.Fatalf("Error executing open-document command: %v", err)
			}
			if err := executeMCPTool("close-document", map[string]any{"uri": uri}); err != nil {
				log.Fatalf("Error executing close-document command: %v", err)
			}
		},
	}

	// Invalidate command
	var invalidateImage string
	var invalidateCmd = &cobra.Command{
		Use:   "invalidate-cache",
		Short: "Drop cached vulnerability results",
		Run: func(cmd *cobra.Command, args []string) {
			mcpArgs := map[string]any{}
			if invalidateImage != "" {
				mcpArgs["image"] = invalidateImage
			}
			if err := executeMCPTool("invalidate-cache", mcpArgs); err != nil {
				log.Fatalf("Error executing invalidate-cache command: %v", err)
			}
		},
	}
	invalidateCmd.Flags().StringVarP(&invalidateImage, "image", "i", "", "Image reference to drop (default all)")

	// List tools command
	var listCmd = &cobra.Command{
		Use:   "list",
		Short: "List all available MCP tools",
		Long:  "List all available MCP tools from the server",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("\n=== Available MCP Tools ===")
			listRes, err := session.ListTools(ctx, &mcp.ListToolsParams{})
			if err != nil {
				log.Fatalf("Failed to list tools: %v", err)
			}
			for _, tool := range listRes.Tools {
				fmt.Printf("- %s: %s\n", tool.Name, tool.Description)
			}
		},
	}

	// Add all commands to root
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(invalidateCmd)
	rootCmd.AddCommand(listCmd)

	// Execute the root command
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
