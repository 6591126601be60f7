package main

import (
	"bufio"
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ortaieb/image-checker/internal/services"
	"github.com/ortaieb/image-checker/pkg/domain"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

type client struct {
	baseURL    string
	httpClient *http.Client
}

type submitResp struct {
	ProcessingID string `json:"processing-id"`
	Status       string `json:"status"`
	Error        string `json:"error"`
}

type resultResp struct {
	ProcessingID string                   `json:"processing-id"`
	Status       string                   `json:"status"`
	Results      *domain.ValidationResult `json:"results"`
	Error        *domain.Failure          `json:"error"`
}

type ui struct {
	title func(a ...any) string
	ok    func(a ...any) string
	info  func(a ...any) string
	warn  func(a ...any) string
	err   func(a ...any) string
	dim   func(a ...any) string
}

type profile struct {
	BaseURL        string `yaml:"baseUrl"`
	CallbackURL    string `yaml:"callbackUrl,omitempty"`
	CallbackSecret string `yaml:"callbackSecret,omitempty"`
}

type cliConfig struct {
	CurrentProfile string             `yaml:"currentProfile"`
	Profiles       map[string]profile `yaml:"profiles"`
}

// batchFile is the YAML document accepted by `imagecheck batch`.
type batchFile struct {
	CallbackURL string         `yaml:"callbackUrl"`
	Requests    []batchRequest `yaml:"requests"`
}

type batchRequest struct {
	ID          string   `yaml:"id"`
	ImagePath   string   `yaml:"imagePath"`
	Content     string   `yaml:"content"`
	Lat         *float64 `yaml:"lat"`
	Long        *float64 `yaml:"long"`
	MaxDistance float64  `yaml:"maxDistance"`
	Start       string   `yaml:"start"`
	End         string   `yaml:"end"`
	Duration    *int     `yaml:"duration"`
}

func newUI() *ui {
	return &ui{
		title: color.New(color.FgHiCyan, color.Bold).SprintFunc(),
		ok:    color.New(color.FgGreen, color.Bold).SprintFunc(),
		info:  color.New(color.FgCyan).SprintFunc(),
		warn:  color.New(color.FgYellow).SprintFunc(),
		err:   color.New(color.FgRed, color.Bold).SprintFunc(),
		dim:   color.New(color.FgHiBlack).SprintFunc(),
	}
}

func (c *client) request(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var buf *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		buf = bytes.NewReader(b)
	} else {
		buf = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, buf)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out, nil
}

func main() {
	baseURL := getenv("IMAGECHECK_BASE_URL", "http://127.0.0.1:3000")
	profileName := getenv("IMAGECHECK_PROFILE", "")
	ui := newUI()

	root := &cobra.Command{
		Use:   "imagecheck",
		Short: "image-checker CLI",
		Long:  "Submit images for validation and follow their processing.",
	}
	root.SetHelpTemplate(helpTemplate(ui))
	root.SilenceUsage = true

	root.PersistentFlags().StringVar(&baseURL, "base-url", baseURL, "Base URL for image-checker")
	root.PersistentFlags().StringVar(&profileName, "profile", profileName, "Config profile")

	var active profile
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, _, _ := loadConfig()
		name := resolveProfileName(profileName, cfg)
		active = cfg.Profiles[name]

		if !cmd.Flags().Changed("base-url") {
			if v := strings.TrimSpace(os.Getenv("IMAGECHECK_BASE_URL")); v != "" {
				baseURL = v
			} else if active.BaseURL != "" {
				baseURL = active.BaseURL
			}
		}
		if profileName == "" {
			profileName = name
		}
		return nil
	}

	root.AddCommand(initCmd(&profileName, ui))
	root.AddCommand(submitCmd(&baseURL, &active, ui))
	root.AddCommand(statusCmd(&baseURL, ui))
	root.AddCommand(resultCmd(&baseURL, ui))
	root.AddCommand(waitCmd(&baseURL, ui))
	root.AddCommand(batchCmd(&baseURL, &active, ui))
	root.AddCommand(statsCmd(&baseURL, ui))
	root.AddCommand(verifyCmd(&active, ui))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.err("[ERROR]"), err.Error())
		os.Exit(1)
	}
}

func initCmd(profileName *string, ui *ui) *cobra.Command {
	var (
		baseURL     string
		callbackURL string
		noPrompt    bool
	)
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize CLI config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, cfgPath, err := loadConfig()
			if err != nil {
				return err
			}
			name := resolveProfileName(*profileName, cfg)
			prof := cfg.Profiles[name]

			baseURL = firstNonEmpty(baseURL, prof.BaseURL, "http://127.0.0.1:3000")
			callbackURL = firstNonEmpty(callbackURL, prof.CallbackURL)
			if !noPrompt {
				reader := bufio.NewReader(os.Stdin)
				baseURL = prompt(reader, "Base URL", baseURL)
				callbackURL = prompt(reader, "Default callback URL (optional)", callbackURL)
				secret, err := promptSecret("Callback HMAC secret (optional)")
				if err != nil {
					return err
				}
				if secret != "" {
					prof.CallbackSecret = secret
				}
			}
			prof.BaseURL = strings.TrimSpace(baseURL)
			prof.CallbackURL = strings.TrimSpace(callbackURL)

			if cfg.Profiles == nil {
				cfg.Profiles = map[string]profile{}
			}
			cfg.Profiles[name] = prof
			if cfg.CurrentProfile == "" || *profileName != "" {
				cfg.CurrentProfile = name
			}
			if err := saveConfig(cfg, cfgPath); err != nil {
				return err
			}
			fmt.Printf("%s Initialized profile '%s' at %s\n", ui.ok("[OK]"), name, cfgPath)
			fmt.Printf("%s secret %s\n", ui.dim("[INFO]"), maskToken(prof.CallbackSecret))
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "base-url", "", "Base URL for image-checker")
	cmd.Flags().StringVar(&callbackURL, "callback-url", "", "Default callback URL")
	cmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "Disable interactive prompts")
	return cmd
}

type submitFlags struct {
	id          string
	imagePath   string
	imageFile   string
	content     string
	lat         float64
	long        float64
	maxDistance float64
	start       string
	end         string
	duration    int
	callbackURL string
}

func (f *submitFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.id, "id", "", "Processing id (generated by the server when empty)")
	cmd.Flags().StringVar(&f.imagePath, "image-path", "", "Image path on the server (relative, file:// or s3://)")
	cmd.Flags().StringVar(&f.imageFile, "image-file", "", "Local image file sent inline")
	cmd.Flags().StringVar(&f.content, "content", "", "Expected content description")
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "Expected latitude")
	cmd.Flags().Float64Var(&f.long, "long", 0, "Expected longitude")
	cmd.Flags().Float64Var(&f.maxDistance, "max-distance", 0, "Maximum distance in meters")
	cmd.Flags().StringVar(&f.start, "start", "", "Window start (RFC3339 or YYYY-MM-DD HH:MM:SS±HH:MM)")
	cmd.Flags().StringVar(&f.end, "end", "", "Window end")
	cmd.Flags().IntVar(&f.duration, "duration", 0, "Window duration in minutes")
	cmd.Flags().StringVar(&f.callbackURL, "callback-url", "", "Callback URL for the result")
}

func (f *submitFlags) build(cmd *cobra.Command, def profile) (domain.ValidationRequest, error) {
	req := domain.ValidationRequest{
		ProcessingID: strings.TrimSpace(f.id),
		ImagePath:    strings.TrimSpace(f.imagePath),
		Analysis:     domain.AnalysisRequest{Content: strings.TrimSpace(f.content)},
		CallbackURL:  firstNonEmpty(f.callbackURL, def.CallbackURL),
	}
	if req.Analysis.Content == "" {
		return req, errors.New("content is required")
	}
	if f.imageFile != "" {
		if req.ImagePath != "" {
			return req, errors.New("use either --image-path or --image-file")
		}
		data, err := os.ReadFile(f.imageFile)
		if err != nil {
			return req, err
		}
		req.Image = data
	}
	if req.ImagePath == "" && len(req.Image) == 0 {
		return req, errors.New("an image is required (--image-path or --image-file)")
	}
	flags := cmd.Flags()
	if flags.Changed("lat") || flags.Changed("long") || flags.Changed("max-distance") {
		req.Analysis.Location = &domain.LocationConstraint{Lat: f.lat, Long: f.long, MaxDistance: f.maxDistance}
	}
	if f.start != "" || f.end != "" || flags.Changed("duration") {
		dt := &domain.DateTimeConstraint{Start: f.start, End: f.end}
		if flags.Changed("duration") {
			d := f.duration
			dt.Duration = &d
		}
		req.Analysis.DateTime = dt
	}
	return req, nil
}

func submitCmd(baseURL *string, active *profile, ui *ui) *cobra.Command {
	var (
		f    submitFlags
		wait bool
	)
	cmd := &cobra.Command{
		Use:     "submit",
		Short:   "Submit an image for validation",
		Example: "imagecheck submit --image-path bridge.jpg --content 'a bridge' --lat 51.5 --long -0.12 --max-distance 200 --wait",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := f.build(cmd, *active)
			if err != nil {
				return err
			}
			c := newClient(*baseURL)
			ctx := cmd.Context()

			spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
			spin.Suffix = " Submitting..."
			spin.Start()
			out, err := c.submit(ctx, req)
			spin.Stop()
			if err != nil {
				return err
			}
			fmt.Printf("%s Accepted: %s\n", ui.ok("[OK]"), out.ProcessingID)
			if !wait {
				return nil
			}
			res, err := c.wait(ctx, out.ProcessingID, ui)
			if err != nil {
				return err
			}
			printResult(res, ui)
			return nil
		},
	}
	f.bind(cmd)
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for the result")
	return cmd
}

func statusCmd(baseURL *string, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:   "status <processing-id>",
		Short: "Get the processing status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*baseURL)
			status, resp, err := c.request(cmd.Context(), http.MethodGet, "/status/"+url.PathEscape(args[0]), nil)
			if err != nil {
				return err
			}
			if status >= 300 {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			var out submitResp
			if err := json.Unmarshal(resp, &out); err != nil {
				fmt.Println(string(resp))
				return nil
			}
			fmt.Printf("%s %s\n", ui.info(out.ProcessingID), out.Status)
			return nil
		},
	}
}

func resultCmd(baseURL *string, ui *ui) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "result <processing-id>",
		Short: "Get the validation result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*baseURL)
			res, body, err := c.result(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if raw {
				fmt.Println(string(body))
				return nil
			}
			printResult(res, ui)
			return nil
		},
	}
	cmd.Flags().BoolVar(&raw, "json", false, "Print the raw JSON response")
	return cmd
}

func waitCmd(baseURL *string, ui *ui) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "wait <processing-id>",
		Short: "Wait until processing finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			res, err := newClient(*baseURL).wait(ctx, args[0], ui)
			if err != nil {
				return err
			}
			printResult(res, ui)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Give up after this long")
	return cmd
}

func batchCmd(baseURL *string, active *profile, ui *ui) *cobra.Command {
	var (
		concurrency int
		wait        bool
	)
	cmd := &cobra.Command{
		Use:     "batch <file.yaml>",
		Short:   "Submit every request listed in a YAML file",
		Args:    cobra.ExactArgs(1),
		Example: "imagecheck batch requests.yaml --concurrency 4 --wait",
		RunE: func(cmd *cobra.Command, args []string) error {
			reqs, err := loadBatch(args[0], active.CallbackURL)
			if err != nil {
				return err
			}
			if concurrency <= 0 {
				concurrency = 1
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			c := newClient(*baseURL)
			bar := progressbar.NewOptions(len(reqs),
				progressbar.OptionSetDescription("Submitting"),
				progressbar.OptionSetWidth(18),
				progressbar.OptionShowCount(),
				progressbar.OptionClearOnFinish(),
			)

			var (
				mu       sync.Mutex
				accepted []string
				failures []string
				wg       sync.WaitGroup
			)
			sem := make(chan struct{}, concurrency)
			for _, req := range reqs {
				wg.Add(1)
				sem <- struct{}{}
				go func(req domain.ValidationRequest) {
					defer wg.Done()
					defer func() { <-sem }()
					out, err := c.submitRetrying(ctx, req)
					mu.Lock()
					if err != nil {
						failures = append(failures, fmt.Sprintf("%s: %v", emptyOr(req.ProcessingID, req.ImagePath), err))
					} else {
						accepted = append(accepted, out.ProcessingID)
					}
					mu.Unlock()
					_ = bar.Add(1)
				}(req)
			}
			wg.Wait()

			fmt.Printf("%s %d accepted, %d failed\n", ui.info("[INFO]"), len(accepted), len(failures))
			for _, f := range failures {
				fmt.Println(ui.warn("[WARN]"), f)
			}
			if wait {
				for _, id := range accepted {
					res, err := c.wait(ctx, id, ui)
					if err != nil {
						return err
					}
					printResult(res, ui)
				}
			}
			if len(failures) > 0 {
				return fmt.Errorf("%d submissions failed", len(failures))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&concurrency, "concurrency", 4, "Parallel submissions")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait for every result")
	return cmd
}

func statsCmd(baseURL *string, ui *ui) *cobra.Command {
	return &cobra.Command{
		Use:     "stats",
		Aliases: []string{"health"},
		Short:   "Show health and queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(*baseURL)
			status, resp, err := c.request(cmd.Context(), http.MethodGet, "/health", nil)
			if err != nil {
				return err
			}
			var health struct {
				Status  string            `json:"status"`
				Version string            `json:"version"`
				Queue   domain.QueueStats `json:"queue"`
			}
			if err := json.Unmarshal(resp, &health); err != nil {
				return fmt.Errorf("error (%d): %s", status, string(resp))
			}
			label := ui.ok(health.Status)
			if status != http.StatusOK {
				label = ui.warn(health.Status)
			}
			q := health.Queue
			fmt.Printf("%s %s %s\n", ui.title("image-checker"), health.Version, label)
			fmt.Printf("  queue     %d/%d (%d free, %d workers)\n", q.Depth, q.Capacity, q.AvailableSlots, q.Workers)
			fmt.Printf("  records   %d total, %d accepted, %d in progress, %d completed, %d failed\n",
				q.Total, q.Accepted, q.InProgress, q.Completed, q.Failed)
			return nil
		},
	}
}

func verifyCmd(active *profile, ui *ui) *cobra.Command {
	var (
		secret    string
		timestamp int64
		signature string
	)
	cmd := &cobra.Command{
		Use:   "verify <body-file>",
		Short: "Verify a callback signature",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			secret = firstNonEmpty(secret, active.CallbackSecret)
			if secret == "" {
				if secret, err = promptSecret("Callback HMAC secret"); err != nil {
					return err
				}
			}
			if !verifySignature(secret, timestamp, body, signature) {
				return errors.New("signature mismatch")
			}
			fmt.Println(ui.ok("[OK]"), "signature valid")
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "Callback HMAC secret")
	cmd.Flags().Int64Var(&timestamp, "timestamp", 0, "Value of "+services.HeaderCallbackTimestamp)
	cmd.Flags().StringVar(&signature, "signature", "", "Value of "+services.HeaderCallbackSignature)
	_ = cmd.MarkFlagRequired("timestamp")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}

func verifySignature(secret string, ts int64, body []byte, signature string) bool {
	want := services.Sign(secret, ts, body)
	return hmac.Equal([]byte(want), []byte(strings.TrimSpace(signature)))
}

func (c *client) submit(ctx context.Context, req domain.ValidationRequest) (submitResp, error) {
	status, resp, err := c.request(ctx, http.MethodPost, "/validate", req)
	if err != nil {
		return submitResp{}, err
	}
	var out submitResp
	_ = json.Unmarshal(resp, &out)
	if status != http.StatusAccepted {
		return out, &httpError{status: status, body: string(resp)}
	}
	return out, nil
}

// submitRetrying resubmits while the server reports a full queue.
func (c *client) submitRetrying(ctx context.Context, req domain.ValidationRequest) (submitResp, error) {
	for {
		out, err := c.submit(ctx, req)
		var he *httpError
		if !errors.As(err, &he) || he.status != http.StatusTooManyRequests {
			return out, err
		}
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (c *client) result(ctx context.Context, id string) (resultResp, []byte, error) {
	status, resp, err := c.request(ctx, http.MethodGet, "/results/"+url.PathEscape(id), nil)
	if err != nil {
		return resultResp{}, nil, err
	}
	if status != http.StatusOK && status != http.StatusAccepted {
		return resultResp{}, resp, &httpError{status: status, body: string(resp)}
	}
	var out resultResp
	if err := json.Unmarshal(resp, &out); err != nil {
		return out, resp, err
	}
	return out, resp, nil
}

func (c *client) wait(ctx context.Context, id string, ui *ui) (resultResp, error) {
	spin := spinner.New(spinner.CharSets[14], 120*time.Millisecond)
	spin.Suffix = " Waiting for " + id + "..."
	spin.Start()
	defer spin.Stop()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		res, _, err := c.result(ctx, id)
		if err != nil {
			return res, err
		}
		if res.Status == string(domain.StateCompleted) || res.Status == string(domain.StateFailed) {
			return res, nil
		}
		spin.Suffix = fmt.Sprintf(" %s is %s...", id, res.Status)
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-ticker.C:
		}
	}
}

func printResult(res resultResp, ui *ui) {
	switch {
	case res.Error != nil:
		fmt.Printf("%s %s failed (%s): %s\n", ui.err("[FAILED]"), res.ProcessingID, res.Error.Reason, res.Error.Message)
	case res.Results == nil:
		fmt.Printf("%s %s is %s\n", ui.dim("[PENDING]"), res.ProcessingID, res.Status)
	case res.Results.Accepted():
		fmt.Printf("%s %s accepted\n", ui.ok("[ACCEPTED]"), res.ProcessingID)
	default:
		fmt.Printf("%s %s rejected\n", ui.warn("[REJECTED]"), res.ProcessingID)
		for _, r := range res.Results.Reasons {
			fmt.Printf("  - %s\n", r)
		}
	}
}

type httpError struct {
	status int
	body   string
}

func (e *httpError) Error() string {
	return "error (" + strconv.Itoa(e.status) + "): " + strings.TrimSpace(e.body)
}

func loadBatch(path, defaultCallback string) ([]domain.ValidationRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var bf batchFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(bf.Requests) == 0 {
		return nil, fmt.Errorf("%s lists no requests", path)
	}
	callback := firstNonEmpty(bf.CallbackURL, defaultCallback)
	out := make([]domain.ValidationRequest, 0, len(bf.Requests))
	for i, r := range bf.Requests {
		if strings.TrimSpace(r.ImagePath) == "" || strings.TrimSpace(r.Content) == "" {
			return nil, fmt.Errorf("request %d: imagePath and content are required", i)
		}
		req := domain.ValidationRequest{
			ProcessingID: r.ID,
			ImagePath:    r.ImagePath,
			Analysis:     domain.AnalysisRequest{Content: r.Content},
			CallbackURL:  callback,
		}
		if r.Lat != nil && r.Long != nil {
			req.Analysis.Location = &domain.LocationConstraint{Lat: *r.Lat, Long: *r.Long, MaxDistance: r.MaxDistance}
		}
		if r.Start != "" || r.End != "" || r.Duration != nil {
			req.Analysis.DateTime = &domain.DateTimeConstraint{Start: r.Start, End: r.End, Duration: r.Duration}
		}
		out = append(out, req)
	}
	return out, nil
}

func newClient(baseURL string) *client {
	return &client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func helpTemplate(ui *ui) string {
	title := ui.title("imagecheck")
	return fmt.Sprintf(`%s: CLI for image-checker

Usage:
  {{.UseLine}}

Commands:
{{range .Commands}}{{if (or .IsAvailableCommand .IsAdditionalHelpTopicCommand)}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

Flags:
  {{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

Global Flags:
  {{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

Config:
  %s

Examples:
  imagecheck init
  imagecheck submit --image-path bridge.jpg --content "a bridge" --wait
  imagecheck batch requests.yaml --concurrency 4
  imagecheck result 0b6d6c1e-6f0e-4d1b-9f59-2f1d1c0c8a10

`, title, configPath())
}

func configPath() string {
	if v := strings.TrimSpace(os.Getenv("IMAGECHECK_CONFIG_DIR")); v != "" {
		return filepath.Join(v, "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.yaml"
	}
	return filepath.Join(home, ".imagecheck", "config.yaml")
}

func promptSecret(label string) (string, error) {
	fmt.Printf("%s: ", label)
	b, err := termReadPassword()
	fmt.Println()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func termReadPassword() ([]byte, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		reader := bufio.NewReader(os.Stdin)
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			err = nil
		}
		return []byte(strings.TrimSpace(line)), err
	}
	return term.ReadPassword(fd)
}

func loadConfig() (cliConfig, string, error) {
	path := configPath()
	var cfg cliConfig
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cliConfig{Profiles: map[string]profile{}}, path, nil
		}
		return cfg, path, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, path, err
	}
	if cfg.Profiles == nil {
		cfg.Profiles = map[string]profile{}
	}
	return cfg, path, nil
}

func saveConfig(cfg cliConfig, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func resolveProfileName(flag string, cfg cliConfig) string {
	if strings.TrimSpace(flag) != "" {
		return strings.TrimSpace(flag)
	}
	if v := strings.TrimSpace(os.Getenv("IMAGECHECK_PROFILE")); v != "" {
		return v
	}
	if cfg.CurrentProfile != "" {
		return cfg.CurrentProfile
	}
	return "default"
}

func prompt(r *bufio.Reader, label, def string) string {
	if def != "" {
		fmt.Printf("%s [%s]: ", label, def)
	} else {
		fmt.Printf("%s: ", label)
	}
	line, _ := r.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}

func maskToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "<unset>"
	}
	if len(v) <= 8 {
		return "****"
	}
	return v[:4] + "..." + v[len(v)-4:]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func emptyOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
