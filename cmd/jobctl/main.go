package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultServerAddr = "http://localhost:8080"

func main() {
	log.SetFlags(0)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	server := os.Getenv("MEDLIT_SERVER")
	if server == "" {
		server = defaultServerAddr
	}
	client := &client{baseURL: strings.TrimRight(server, "/"), http: &http.Client{Timeout: 30 * time.Second}}

	var err error
	switch os.Args[1] {
	case "submit":
		err = runSubmit(client, os.Args[2:])
	case "get":
		err = runGet(client, os.Args[2:])
	case "cancel":
		err = runCancel(client, os.Args[2:])
	case "list":
		err = runList(client, os.Args[2:])
	case "watch":
		err = runWatch(client, os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: jobctl <command> [flags]

Commands:
  submit -f <job.yaml>   submit a job described by a YAML file
  get <job-id>           print a job
  cancel <job-id>        request cancellation of a job
  list [-status s] [-model m] [-limit n] [-offset n]
  watch <job-id>         follow a job's progress until it reaches a terminal state

The server address is taken from MEDLIT_SERVER (default http://localhost:8080).`)
}

// jobSpec mirrors the create-job request body, in YAML.
type jobSpec struct {
	TaskKind      string `yaml:"task_kind" json:"task_kind"`
	TargetModelID string `yaml:"target_model_id,omitempty" json:"target_model_id,omitempty"`
	Parameters    struct {
		TotalEpochs     int     `yaml:"total_epochs,omitempty" json:"total_epochs,omitempty"`
		BatchSize       int     `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
		LearningRate    float64 `yaml:"learning_rate,omitempty" json:"learning_rate,omitempty"`
		ValidationSplit float64 `yaml:"validation_split,omitempty" json:"validation_split,omitempty"`
		Trials          int     `yaml:"n_trials,omitempty" json:"n_trials,omitempty"`
		Metric          string  `yaml:"metric,omitempty" json:"metric,omitempty"`
		Items           []struct {
			Title    string `yaml:"title" json:"title"`
			Abstract string `yaml:"abstract" json:"abstract"`
		} `yaml:"items,omitempty" json:"items,omitempty"`
		Threshold float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	} `yaml:"parameters" json:"parameters"`
}

func runSubmit(c *client, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	file := fs.String("f", "", "path to job YAML file")
	fs.Parse(args)

	if *file == "" {
		return fmt.Errorf("job file must be specified with -f")
	}

	raw, err := os.ReadFile(*file)
	if err != nil {
		return err
	}

	var spec jobSpec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return fmt.Errorf("parsing %s: %w", *file, err)
	}

	body, err := c.post("/api/jobs", spec)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runGet(c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: jobctl get <job-id>")
	}
	body, err := c.get("/api/jobs/" + args[0])
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runCancel(c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: jobctl cancel <job-id>")
	}
	body, err := c.post("/api/jobs/"+args[0]+"/cancel", nil)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runList(c *client, args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	status := fs.String("status", "", "filter by status")
	model := fs.String("model", "", "filter by target model")
	limit := fs.Int("limit", 20, "page size")
	offset := fs.Int("offset", 0, "page offset")
	fs.Parse(args)

	query := fmt.Sprintf("?limit=%d&offset=%d", *limit, *offset)
	if *status != "" {
		query += "&status=" + *status
	}
	if *model != "" {
		query += "&model_id=" + *model
	}

	body, err := c.get("/api/jobs" + query)
	if err != nil {
		return err
	}
	return printJSON(body)
}

// runWatch follows the job's server-sent event stream and prints one line
// per snapshot.
func runWatch(c *client, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: jobctl watch <job-id>")
	}

	// The event stream stays open for the job's whole lifetime, so it cannot
	// share the request-scoped client timeout.
	streamClient := &http.Client{}
	resp, err := streamClient.Get(c.baseURL + "/api/jobs/" + args[0] + "/events")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return responseError(resp)
	}

	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		payload, found := strings.CutPrefix(line, "data: ")
		if !found {
			continue
		}

		var snapshot struct {
			Status   string  `json:"status"`
			Progress float64 `json:"progress"`
			Step     int     `json:"step"`
			Metric   struct {
				Loss      float64 `json:"loss"`
				Accuracy  float64 `json:"accuracy"`
				BestValue float64 `json:"best_value"`
			} `json:"metric"`
		}
		if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
			return fmt.Errorf("malformed event: %w", err)
		}

		log.Printf("status=%s progress=%.1f%% step=%d loss=%.4f accuracy=%.4f best=%.4f",
			snapshot.Status, snapshot.Progress, snapshot.Step,
			snapshot.Metric.Loss, snapshot.Metric.Accuracy, snapshot.Metric.BestValue)
	}
	return scanner.Err()
}

type client struct {
	baseURL string
	http    *http.Client
}

func (c *client) get(path string) ([]byte, error) {
	resp, err := c.http.Get(c.baseURL + path)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readResponse(resp)
}

func (c *client) post(path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(encoded)
	}

	resp, err := c.http.Post(c.baseURL+path, "application/json", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return readResponse(resp)
}

func readResponse(resp *http.Response) ([]byte, error) {
	if resp.StatusCode >= 400 {
		return nil, responseError(resp)
	}
	return io.ReadAll(resp.Body)
}

func responseError(resp *http.Response) error {
	raw, _ := io.ReadAll(resp.Body)

	var errResp struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &errResp) == nil && errResp.Error != "" {
		if errResp.Message != "" {
			return fmt.Errorf("%s: %s (HTTP %d)", errResp.Error, errResp.Message, resp.StatusCode)
		}
		return fmt.Errorf("%s (HTTP %d)", errResp.Error, resp.StatusCode)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
}

func printJSON(body []byte) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}
