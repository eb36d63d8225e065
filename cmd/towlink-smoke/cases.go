package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

const (
	StatusPass = "PASS"
	StatusFail = "FAIL"
	StatusSkip = "SKIP"
)

type Runner struct {
	cfg   Config
	httpc *http.Client
	db    *pgxpool.Pool
	redis *redis.Client

	// state threaded through the flow checks
	providerID string
	requestID  string
	offerID    string
	jobID      string
}

type Result struct {
	Name    string
	Status  string
	Latency time.Duration
	Note    string
}

type Check struct {
	Name string
	Run  func(ctx context.Context, r *Runner) Result
}

func NewRunner(cfg Config) *Runner {
	return &Runner{
		cfg:   cfg,
		httpc: &http.Client{Timeout: 10 * time.Second},
	}
}

func (r *Runner) RunAll(ctx context.Context) []Result {
	if r.cfg.DSN != "" {
		if db, err := pgxpool.New(ctx, r.cfg.DSN); err == nil {
			r.db = db
		}
	}
	if r.cfg.RedisAddr != "" {
		r.redis = redis.NewClient(&redis.Options{Addr: r.cfg.RedisAddr})
	}

	checks := r.checks()
	results := make([]Result, 0, len(checks))
	for _, c := range checks {
		res := c.Run(ctx, r)
		res.Name = c.Name
		results = append(results, res)
		fmt.Printf("%-7s %s", res.Status, c.Name)
		if res.Latency > 0 {
			fmt.Printf(" (%s)", res.Latency)
		}
		if res.Note != "" {
			fmt.Printf(" - %s", res.Note)
		}
		fmt.Println()
	}

	if r.db != nil {
		r.db.Close()
	}
	if r.redis != nil {
		_ = r.redis.Close()
	}
	return results
}

func (r *Runner) checks() []Check {
	base := r.cfg.BaseURL
	return []Check{
		{
			Name: "env: postgres connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusFail, Note: "db not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.db.Ping(ctx); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "env: redis connect",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.redis == nil {
					return Result{Status: StatusFail, Note: "redis not configured"}
				}
				ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if err := r.redis.Ping(ctx).Err(); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "schema: tables exist",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusSkip, Note: "db not configured"}
				}
				tables, err := expectedTables(r.cfg.MigrationPath)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				for _, t := range tables {
					var exists bool
					err := r.db.QueryRow(ctx,
						"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name=$1)",
						t,
					).Scan(&exists)
					if err != nil {
						return Result{Status: StatusFail, Note: err.Error()}
					}
					if !exists {
						return Result{Status: StatusFail, Note: "missing table: " + t}
					}
				}
				return Result{Status: StatusPass, Note: fmt.Sprintf("%d tables", len(tables))}
			},
		},
		{
			Name: "api: health",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				resp, err := r.httpc.Get(base + "/health")
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				_ = resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return Result{Status: StatusFail, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
				}
				return Result{Status: StatusPass, Latency: time.Since(start)}
			},
		},
		{
			// The offer flow needs an approved provider; seed one directly.
			Name: "seed: approved provider",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.db == nil {
					return Result{Status: StatusSkip, Note: "db not configured"}
				}
				r.providerID = uuid.NewString()
				now := time.Now().UTC()
				_, err := r.db.Exec(ctx, `
					INSERT INTO providers (id, email, name, verification_status, created_at, updated_at)
					VALUES ($1, $2, 'Smoke Test Towing', 'approved', $3, $3)`,
					r.providerID, "smoke-"+r.providerID[:8]+"@example.com", now,
				)
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				return Result{Status: StatusPass}
			},
		},
		{
			Name: "flow: create request",
			Run: func(ctx context.Context, r *Runner) Result {
				body, res := r.postJSON(ctx, base+"/api/requests", requestBody(), http.StatusCreated)
				if res.Status != StatusPass {
					return res
				}
				r.requestID, _ = body["id"].(string)
				if r.requestID == "" {
					return Result{Status: StatusFail, Note: "response has no id"}
				}
				return res
			},
		},
		{
			Name: "flow: request rejects bad price",
			Run: func(ctx context.Context, r *Runner) Result {
				body := requestBody()
				body["offered_price"] = 1
				_, res := r.postJSON(ctx, base+"/api/requests", body, http.StatusBadRequest)
				return res
			},
		},
		{
			Name: "flow: submit counter offer",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.requestID == "" || r.providerID == "" {
					return Result{Status: StatusSkip, Note: "no request or provider"}
				}
				body, res := r.postJSON(ctx, base+"/api/requests/"+r.requestID+"/offers", map[string]any{
					"provider_id":       r.providerID,
					"offer_type":        "counter",
					"offer_price":       9500,
					"estimated_arrival": 30,
				}, http.StatusCreated)
				if res.Status != StatusPass {
					return res
				}
				r.offerID, _ = body["id"].(string)
				return res
			},
		},
		{
			Name: "flow: accept offer creates job",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.offerID == "" {
					return Result{Status: StatusSkip, Note: "no offer"}
				}
				body, res := r.postJSON(ctx, base+"/api/requests/"+r.requestID+"/offers/"+r.offerID+"/resolve", map[string]any{
					"decision": "accept",
				}, http.StatusOK)
				if res.Status != StatusPass {
					return res
				}
				jobBody, _ := body["job"].(map[string]any)
				r.jobID, _ = jobBody["id"].(string)
				if r.jobID == "" {
					return Result{Status: StatusFail, Note: "resolution carried no job"}
				}
				return res
			},
		},
		{
			Name: "flow: advance job",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.jobID == "" {
					return Result{Status: StatusSkip, Note: "no job"}
				}
				_, res := r.postJSON(ctx, base+"/api/jobs/"+r.jobID+"/advance", map[string]any{
					"status": "en_route",
				}, http.StatusOK)
				return res
			},
		},
		{
			Name: "flow: skipping a stage conflicts",
			Run: func(ctx context.Context, r *Runner) Result {
				if r.jobID == "" {
					return Result{Status: StatusSkip, Note: "no job"}
				}
				_, res := r.postJSON(ctx, base+"/api/jobs/"+r.jobID+"/advance", map[string]any{
					"status": "at_dropoff",
				}, http.StatusConflict)
				return res
			},
		},
		{
			Name: "api: price guidance",
			Run: func(ctx context.Context, r *Runner) Result {
				start := time.Now()
				resp, err := r.httpc.Get(base + "/api/price-guidance?distance_miles=15")
				if err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				defer resp.Body.Close()
				if resp.StatusCode != http.StatusOK {
					return Result{Status: StatusFail, Note: fmt.Sprintf("status=%d", resp.StatusCode)}
				}
				var body map[string]any
				if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
					return Result{Status: StatusFail, Note: err.Error()}
				}
				if _, ok := body["suggested"]; !ok {
					return Result{Status: StatusFail, Note: "no suggested price"}
				}
				return Result{Status: StatusPass, Latency: time.Since(start)}
			},
		},
		{
			Name: "race: concurrent accept picks one winner",
			Run:  concurrentAccept,
		},
		{
			Name: "load: request creation throughput",
			Run:  requestLoad,
		},
	}
}

func requestBody() map[string]any {
	return map[string]any{
		"customer_email": "smoke@example.com",
		"customer_name":  "Smoke Test",
		"pickup":         map[string]any{"street": "100 Main St", "city": "Austin", "state": "TX", "zip": "78701"},
		"dropoff":        map[string]any{"street": "500 Oak Ave", "city": "Austin", "state": "TX", "zip": "78704"},
		"vehicle":        map[string]any{"make": "Honda", "model": "Civic"},
		"offered_price":  8000,
		"urgency":        "asap",
	}
}

// postJSON sends a body and fails the check unless the status matches.
func (r *Runner) postJSON(ctx context.Context, url string, payload any, want int) (map[string]any, Result) {
	b, _ := json.Marshal(payload)
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(b)))
	req.Header.Set("Content-Type", "application/json")
	start := time.Now()
	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, Result{Status: StatusFail, Note: err.Error()}
	}
	defer resp.Body.Close()
	latency := time.Since(start)

	var body map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&body)
	if resp.StatusCode != want {
		return body, Result{Status: StatusFail, Latency: latency, Note: fmt.Sprintf("status=%d want=%d", resp.StatusCode, want)}
	}
	return body, Result{Status: StatusPass, Latency: latency}
}

// concurrentAccept creates a fresh request with two offers and fires
// parallel accepts at both; exactly one may win.
func concurrentAccept(ctx context.Context, r *Runner) Result {
	if r.providerID == "" {
		return Result{Status: StatusSkip, Note: "no provider"}
	}
	base := r.cfg.BaseURL

	body, res := r.postJSON(ctx, base+"/api/requests", requestBody(), http.StatusCreated)
	if res.Status != StatusPass {
		return res
	}
	requestID, _ := body["id"].(string)

	offerIDs := make([]string, 0, 2)
	for i := 0; i < 2; i++ {
		body, res = r.postJSON(ctx, base+"/api/requests/"+requestID+"/offers", map[string]any{
			"provider_id":       r.providerID,
			"offer_type":        "counter",
			"offer_price":       9000 + int64(i)*500,
			"estimated_arrival": 30,
		}, http.StatusCreated)
		if res.Status != StatusPass {
			return res
		}
		id, _ := body["id"].(string)
		offerIDs = append(offerIDs, id)
	}

	var mu sync.Mutex
	wins := 0
	var wg sync.WaitGroup
	for i := 0; i < r.cfg.Concurrency; i++ {
		offerID := offerIDs[i%len(offerIDs)]
		wg.Add(1)
		go func() {
			defer wg.Done()
			b, _ := json.Marshal(map[string]any{"decision": "accept"})
			req, _ := http.NewRequestWithContext(ctx, http.MethodPost,
				base+"/api/requests/"+requestID+"/offers/"+offerID+"/resolve", strings.NewReader(string(b)))
			req.Header.Set("Content-Type", "application/json")
			resp, err := r.httpc.Do(req)
			if err != nil {
				return
			}
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		return Result{Status: StatusFail, Note: fmt.Sprintf("winners=%d", wins)}
	}
	return Result{Status: StatusPass, Note: "winners=1"}
}

func requestLoad(ctx context.Context, r *Runner) Result {
	base := r.cfg.BaseURL
	end := time.Now().Add(r.cfg.Duration)
	var mu sync.Mutex
	var count, errCount int64
	var wg sync.WaitGroup

	for i := 0; i < r.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for time.Now().Before(end) {
				b, _ := json.Marshal(requestBody())
				req, _ := http.NewRequestWithContext(ctx, http.MethodPost, base+"/api/requests", strings.NewReader(string(b)))
				req.Header.Set("Content-Type", "application/json")
				resp, err := r.httpc.Do(req)
				if err != nil {
					mu.Lock()
					errCount++
					mu.Unlock()
					continue
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				mu.Lock()
				if resp.StatusCode == http.StatusCreated {
					count++
				} else {
					errCount++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if count == 0 {
		return Result{Status: StatusFail, Note: "no requests completed"}
	}
	rps := float64(count) / r.cfg.Duration.Seconds()
	return Result{Status: StatusPass, Note: fmt.Sprintf("rps=%.1f errors=%d", rps, errCount)}
}

func expectedTables(path string) ([]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	re := regexp.MustCompile(`(?i)create\s+table\s+(?:if\s+not\s+exists\s+)?([a-zA-Z0-9_]+)`)
	matches := re.FindAllStringSubmatch(string(b), -1)
	tables := make([]string, 0, len(matches))
	for _, m := range matches {
		tables = append(tables, m[1])
	}
	return tables, nil
}
