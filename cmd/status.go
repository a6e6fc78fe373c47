package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL string
)

var statusCmd = &cobra.Command{
	Use:   "status [job-id]",
	Short: "Query server status or specific job",
	Long: `Queries the server for job status information.
If no job-id is provided, lists all jobs.
If job-id is provided, shows detailed status for that job.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "Server URL")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	var url string

	if len(args) == 0 {
		// List all jobs
		url = fmt.Sprintf("%s/api/v1/jobs", serverURL)
		return listJobs(url)
	} else {
		// Get specific job status
		jobID := args[0]
		url = fmt.Sprintf("%s/api/v1/jobs/%s/status", serverURL, jobID)
		return getJobStatus(url, jobID)
	}
}

func listJobs(url string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var jobs []map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&jobs); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	fmt.Printf("Found %d job(s):\n\n", len(jobs))
	for _, job := range jobs {
		fmt.Printf("Job ID: %s\n", job["id"])
		fmt.Printf("  State: %s\n", job["state"])
		fmt.Printf("  Iterations: %v\n", job["iterations"])
		if iters, ok := job["iterations"].(float64); ok && iters > 0 {
			fmt.Printf("  Lower bound: %.6f -> %.6f\n", job["initialLowerBound"], job["lowerBound"])
		}
		fmt.Println()
	}

	return nil
}

func getJobStatus(url, jobID string) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("job not found: %s", jobID)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}

	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	// Display status
	fmt.Printf("Job: %s\n", status["id"])
	fmt.Printf("State: %s\n", status["state"])
	fmt.Println()

	if config, ok := status["config"].(map[string]interface{}); ok {
		fmt.Println("Configuration:")
		if inst, ok := config["instance"].(map[string]interface{}); ok {
			if path, _ := inst["path"].(string); path != "" {
				fmt.Printf("  Instance: %s\n", path)
			} else if gen, ok := inst["generate"].(map[string]interface{}); ok {
				fmt.Printf("  Instance: generated, %v variables, %v constraints, seed %v\n",
					gen["numVars"], gen["numConstraints"], gen["seed"])
			}
		}
		if run, ok := config["run"].(map[string]interface{}); ok {
			fmt.Printf("  Max iterations: %v\n", run["maxIterations"])
			fmt.Printf("  Precision: %v (%v)\n", run["precision"], run["backend"])
		}
		if acc, ok := config["accelerator"].(map[string]interface{}); ok {
			fmt.Printf("  History size: %v\n", acc["historySize"])
		}
		fmt.Println()
	}

	fmt.Println("Progress:")
	fmt.Printf("  Iterations: %v\n", status["iterations"])
	if from, _ := status["resumedFrom"].(string); from != "" {
		fmt.Printf("  Resumed from: %s\n", from)
	}
	if iters, ok := status["iterations"].(float64); ok && iters > 0 {
		initial, _ := status["initialLowerBound"].(float64)
		current, _ := status["lowerBound"].(float64)
		fmt.Printf("  Initial lower bound: %.6f\n", initial)
		fmt.Printf("  Lower bound: %.6f (+%.6f)\n", current, current-initial)
		fmt.Printf("  Last method: %v (step size %.3g)\n", status["method"], status["stepSize"])
	}
	if primal, ok := status["primalCost"].(float64); ok {
		fmt.Printf("  Rounded primal cost: %.6f\n", primal)
	}
	if converged, _ := status["converged"].(bool); converged {
		fmt.Println("  Converged")
	}

	if elapsed, ok := status["elapsed"].(float64); ok {
		fmt.Printf("  Elapsed: %s\n", time.Duration(elapsed*float64(time.Second)).Round(time.Millisecond))
	}
	if rate, ok := status["iterationsPerSecond"].(float64); ok && rate > 0 {
		fmt.Printf("  Throughput: %.1f iterations/sec\n", rate)
	}

	if msg, _ := status["error"].(string); msg != "" {
		fmt.Printf("\nError: %s\n", msg)
	}

	return nil
}
