package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/iota-uz/field-registry/modules/importing/infrastructure/packagecodec"
)

type runOptions struct {
	BaseURL    string
	ActorID    string
	UserHeader string
	Profile    string
	OutPath    string
	Format     string
	P99LimitMS int
	Timeout    time.Duration
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run --profile <name> --base-url <url> --actor <uuid> --out <path>",
		Short: "Run a load test profile and write import_load_report.v1 JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(opts.BaseURL) == "" {
				return errors.New("--base-url is required")
			}
			if _, err := uuid.Parse(strings.TrimSpace(opts.ActorID)); err != nil {
				return fmt.Errorf("--actor must be a UUID: %w", err)
			}
			if strings.TrimSpace(opts.OutPath) == "" {
				return errors.New("--out is required")
			}
			format := packagecodec.Format(opts.Format)
			if format != packagecodec.FormatJSON && format != packagecodec.FormatCBOR {
				return fmt.Errorf("unsupported --format %q", opts.Format)
			}

			p, err := builtinProfile(opts.Profile)
			if err != nil {
				return err
			}

			client := newHTTPClient(opts.Timeout, p.VUs)
			if err := smokeCheck(cmd.Context(), client, opts); err != nil {
				return err
			}

			report := runProfile(cmd.Context(), client, opts, p, format)
			p99Limit := opts.P99LimitMS
			if p99Limit <= 0 {
				p99Limit = p.DefaultP99MS
			}
			report.Thresholds = append(report.Thresholds, loadReportThreshold{
				Name:  "p99_ms",
				Limit: p99Limit,
				OK:    report.p99 <= p99Limit,
			})

			data, err := json.MarshalIndent(report.loadReportV1, "", "  ")
			if err != nil {
				return err
			}
			return os.WriteFile(opts.OutPath, data, 0o644)
		},
	}

	cmd.Flags().StringVar(&opts.Profile, "profile", "import_smoke", "profile name (import_smoke|import_steady|import_read_heavy)")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "http://localhost:3200", "server base URL")
	cmd.Flags().StringVar(&opts.ActorID, "actor", "", "acting user UUID sent in the user header")
	cmd.Flags().StringVar(&opts.UserHeader, "user-header", "X-User-ID", "header carrying the acting user id")
	cmd.Flags().StringVar(&opts.OutPath, "out", "", "output report path")
	cmd.Flags().StringVar(&opts.Format, "format", string(packagecodec.FormatCBOR), "package wire format (json|cbor)")
	cmd.Flags().IntVar(&opts.P99LimitMS, "p99-limit-ms", 0, "p99 latency threshold in milliseconds (default per profile)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", defaultRequestTimeout, "per-request timeout")

	return cmd
}

type runResult struct {
	loadReportV1
	p99 int
}

func runProfile(ctx context.Context, client *http.Client, opts runOptions, p profile, format packagecodec.Format) runResult {
	startedAt := time.Now().UTC()
	st := newStats()

	ctx, cancel := context.WithTimeout(ctx, p.Duration)
	defer cancel()

	wg := sync.WaitGroup{}
	wg.Add(p.VUs)
	for i := 0; i < p.VUs; i++ {
		go func(workerID int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				t := pickTarget(r, p.Targets)
				if t.Pipeline {
					runPipeline(ctx, client, opts, r, p.PersonsPerPackage, format, st)
					continue
				}
				res, _ := doRequest(ctx, client, opts, t.Endpoint, t.Method, t.Path, nil, "")
				st.record(res)
			}
		}(i)
	}
	wg.Wait()

	var out runResult
	out.SchemaVersion = 1
	out.RunID = uuid.NewString()
	out.StartedAt = startedAt.Format(time.RFC3339)
	out.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	out.Target.BaseURL = opts.BaseURL
	out.Target.ActorID = opts.ActorID
	out.Profile.Name = p.Name
	out.Profile.VUs = p.VUs
	out.Profile.DurationSeconds = int(p.Duration.Seconds())
	out.Profile.PersonsPerPackage = p.PersonsPerPackage
	out.Packages.Uploaded, out.Packages.Committed, out.Packages.Blocked = st.packageCounts()
	out.Results = st.results()
	out.p99 = st.p99All()
	return out
}

type pipelinePackage struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// runPipeline uploads one synthetic package and drives it through validation,
// duplicate detection, approval and commit. It stops at the first failing step.
func runPipeline(ctx context.Context, client *http.Client, opts runOptions, r *rand.Rand, persons int, format packagecodec.Format, st *stats) {
	_, raw, err := syntheticPackage(r, persons, format, time.Now().UTC())
	if err != nil {
		st.record(requestResult{Endpoint: "POST /packages", Err: err})
		return
	}
	res, body := doRequest(ctx, client, opts, "POST /packages", http.MethodPost, "/import/api/packages", raw, "application/octet-stream")
	st.record(res)
	if !res.ok() {
		return
	}
	var pkg pipelinePackage
	if err := json.Unmarshal(body, &pkg); err != nil || pkg.ID == "" {
		return
	}
	st.uploaded()

	base := "/import/api/packages/" + pkg.ID
	steps := []struct {
		endpoint string
		path     string
		body     string
	}{
		{"POST /validate", base + "/validate", ""},
		{"POST /detect-duplicates", base + "/detect-duplicates", ""},
		{"POST /approve", base + "/approve", `{"all_valid":true}`},
		{"POST /commit", base + "/commit", `{}`},
	}
	for _, step := range steps {
		var payload []byte
		if step.body != "" {
			payload = []byte(step.body)
		}
		res, _ := doRequest(ctx, client, opts, step.endpoint, http.MethodPost, step.path, payload, "application/json")
		st.record(res)
		if !res.ok() {
			if res.StatusCode == http.StatusConflict {
				st.blocked()
			}
			return
		}
	}
	st.committed()
}

func smokeCheck(ctx context.Context, client *http.Client, opts runOptions) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	res, _ := doRequest(ctx, client, opts, "smoke", http.MethodGet, "/import/api/packages?page_size=1", nil, "")
	if res.Err != nil {
		return res.Err
	}
	if res.StatusCode/100 != 2 {
		return fmt.Errorf("smoke check failed: status=%d", res.StatusCode)
	}
	return nil
}

type requestResult struct {
	Endpoint   string
	DurationMS int
	StatusCode int
	Err        error
}

func (r requestResult) ok() bool {
	return r.Err == nil && r.StatusCode/100 == 2
}

func doRequest(ctx context.Context, client *http.Client, opts runOptions, endpoint, method, path string, body []byte, contentType string) (requestResult, []byte) {
	url := strings.TrimRight(opts.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return requestResult{Endpoint: endpoint, Err: err}, nil
	}
	req.Header.Set(opts.UserHeader, opts.ActorID)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return requestResult{Endpoint: endpoint, DurationMS: int(time.Since(start).Milliseconds()), Err: err}, nil
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(resp.Body)
	res := requestResult{Endpoint: endpoint, DurationMS: int(time.Since(start).Milliseconds()), StatusCode: resp.StatusCode, Err: err}
	return res, data
}

func pickTarget(r *rand.Rand, targets []target) target {
	total := 0
	for _, t := range targets {
		total += t.Weight
	}
	x := r.Intn(total)
	for _, t := range targets {
		x -= t.Weight
		if x < 0 {
			return t
		}
	}
	return targets[len(targets)-1]
}

type endpointStats struct {
	count     int
	errors    int
	latencies []int
}

type stats struct {
	mu        sync.Mutex
	endpoints map[string]*endpointStats

	uploadedN  int
	committedN int
	blockedN   int
}

func newStats() *stats {
	return &stats{
		endpoints: map[string]*endpointStats{},
	}
}

func (s *stats) record(res requestResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	es := s.endpoints[res.Endpoint]
	if es == nil {
		es = &endpointStats{latencies: make([]int, 0, 1024)}
		s.endpoints[res.Endpoint] = es
	}
	es.count++
	if res.Err != nil || res.StatusCode >= 400 {
		es.errors++
	}
	if res.DurationMS > 0 {
		es.latencies = append(es.latencies, res.DurationMS)
	}
}

func (s *stats) uploaded() {
	s.mu.Lock()
	s.uploadedN++
	s.mu.Unlock()
}

func (s *stats) committed() {
	s.mu.Lock()
	s.committedN++
	s.mu.Unlock()
}

func (s *stats) blocked() {
	s.mu.Lock()
	s.blockedN++
	s.mu.Unlock()
}

func (s *stats) packageCounts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploadedN, s.committedN, s.blockedN
}

func (s *stats) results() []loadReportResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]loadReportResult, 0, len(s.endpoints))
	for endpoint, es := range s.endpoints {
		p50, p95, p99 := percentiles(es.latencies)
		out = append(out, loadReportResult{
			Endpoint: endpoint,
			Count:    es.count,
			Errors:   es.errors,
			P50MS:    p50,
			P95MS:    p95,
			P99MS:    p99,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Endpoint < out[j].Endpoint })
	return out
}

func (s *stats) p99All() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]int, 0, 4096)
	for _, es := range s.endpoints {
		all = append(all, es.latencies...)
	}
	_, _, p99 := percentiles(all)
	return p99
}

func percentiles(ms []int) (int, int, int) {
	if len(ms) == 0 {
		return 0, 0, 0
	}
	cp := append([]int(nil), ms...)
	sort.Ints(cp)
	p50 := cp[int(float64(len(cp)-1)*0.50)]
	p95 := cp[int(float64(len(cp)-1)*0.95)]
	p99 := cp[int(float64(len(cp)-1)*0.99)]
	return p50, p95, p99
}
