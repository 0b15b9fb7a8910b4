package addonstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/addonhost/backend/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/addonhost/backend/internal/shared/types"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig(srv.URL)
	cfg.MaxRetries = 0
	cfg.RateLimit = 0
	cfg.Timeout = 2 * time.Second
	c, err := New(cfg, nil)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, _ := sonic.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []string
}

func (o *recordingObserver) StoreRequest(op, status string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, op+":"+status)
}

func TestListListingsSanitizesDescriptions(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/listings", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get(requestIDHeader))
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"listings": []map[string]interface{}{{
				"id":          "l-1",
				"addon_id":    "budget-lens",
				"name":        "Budget Lens",
				"version":     "1.2.0",
				"description": `<p>Track <b>budgets</b> <script>alert(1)</script></p><p>More detail.</p>`,
			}},
		})
	}))

	obs := &recordingObserver{}
	c.SetObserver(obs)

	listings, err := c.ListListings(context.Background())
	require.NoError(t, err)
	require.Len(t, listings, 1)
	assert.NotContains(t, listings[0].Description, "<script>")
	assert.Contains(t, listings[0].Description, "<b>budgets</b>")
	assert.Equal(t, "Track budgets", listings[0].Summary)
	assert.Equal(t, []string{"list_listings:ok"}, obs.statuses)
}

func TestListListingsCoalescesAndCaches(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		writeJSON(w, http.StatusOK, map[string]interface{}{"listings": []interface{}{}})
	}))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.ListListings(context.Background())
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	_, err := c.ListListings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	c.InvalidateListings()
	_, err = c.ListListings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestListListingsSurvivesFirstCallerCancel(t *testing.T) {
	var hits int32
	release := make(chan struct{})
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		<-release
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"listings": []map[string]interface{}{{"id": "l-1", "addon_id": "fx-rates"}},
		})
	}))

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.ListListings(firstCtx)
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return atomic.LoadInt32(&hits) == 1 }, time.Second, time.Millisecond)

	second := make(chan []types.StoreListing, 1)
	secondErr := make(chan error, 1)
	go func() {
		items, err := c.ListListings(context.Background())
		second <- items
		secondErr <- err
	}()

	cancel()
	err := <-firstErr
	var unavailable *types.StoreUnavailableError
	assert.True(t, errors.As(err, &unavailable))

	close(release)
	require.NoError(t, <-secondErr)
	assert.Len(t, <-second, 1)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestServerErrorIsUnavailable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))

	_, err := c.ListListings(context.Background())
	var unavailable *types.StoreUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, http.StatusBadGateway, unavailable.StatusCode)
	assert.Equal(t, OpListListings, unavailable.Op)
}

func TestTransportErrorIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	cfg := DefaultConfig(url)
	cfg.MaxRetries = 0
	c, err := New(cfg, nil)
	require.NoError(t, err)

	_, err = c.GetRatings(context.Background(), "budget-lens")
	var unavailable *types.StoreUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestNotFound(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.GetListing(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrListingNotFound)
	// a 404 is not a store outage
	assert.Equal(t, resilience.StateClosed, c.BreakerState())
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	var hits int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	for i := 0; i < 5; i++ {
		_, _ = c.GetRatings(context.Background(), "flaky")
	}
	require.Equal(t, resilience.StateOpen, c.BreakerState())

	_, err := c.GetRatings(context.Background(), "flaky")
	var unavailable *types.StoreUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(5), atomic.LoadInt32(&hits))
}

func TestCancelledRateLimitWaitIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"ratings": []interface{}{}})
	}))
	defer srv.Close()

	cfg := DefaultConfig(srv.URL)
	cfg.MaxRetries = 0
	cfg.RateLimit = 0.001
	c, err := New(cfg, nil)
	require.NoError(t, err)

	// the single token is spent; the next wait outlives the deadline
	_, err = c.GetRatings(context.Background(), "slow")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = c.GetRatings(ctx, "slow")
	var unavailable *types.StoreUnavailableError
	assert.ErrorAs(t, err, &unavailable)
}

func TestGetRatings(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/addons/budget-lens/ratings", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"ratings": []map[string]interface{}{
				{"addon_id": "budget-lens", "rating": 5, "review": "great"},
				{"addon_id": "budget-lens", "rating": 3},
			},
		})
	}))

	ratings, err := c.GetRatings(context.Background(), "budget-lens")
	require.NoError(t, err)
	require.Len(t, ratings, 2)
	assert.Equal(t, 5, ratings[0].Rating)
}

func TestSubmitRating(t *testing.T) {
	var body ratingRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, sonic.ConfigDefault.NewDecoder(r.Body).Decode(&body))
		writeJSON(w, http.StatusCreated, map[string]interface{}{"rating": body.Rating, "review": body.Review})
	}))

	got, err := c.SubmitRating(context.Background(), "budget-lens", 4, "  solid  ")
	require.NoError(t, err)
	assert.Equal(t, 4, body.Rating)
	assert.Equal(t, "solid", body.Review)
	assert.Equal(t, "budget-lens", got.AddonID)
}

func TestSubmitRatingValidatesLocally(t *testing.T) {
	var hits int32
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
	}))

	for _, rating := range []int{0, 6, -1} {
		_, err := c.SubmitRating(context.Background(), "budget-lens", rating, "")
		assert.Error(t, err)
	}
	_, err := c.SubmitRating(context.Background(), "budget-lens", 3, strings.Repeat("x", 5000))
	assert.Error(t, err)
	assert.Equal(t, int32(0), atomic.LoadInt32(&hits))
}

func TestClientErrorIsNotUnavailable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad rating", http.StatusUnprocessableEntity)
	}))
	_, err := c.SubmitRating(context.Background(), "budget-lens", 3, "")
	require.Error(t, err)
	var unavailable *types.StoreUnavailableError
	assert.False(t, errors.As(err, &unavailable))
	assert.ErrorIs(t, err, types.ErrStoreRejected)
}

func storeWithPackage(t *testing.T, pkg []byte, checksum string) *Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/listings/l-7", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":           "l-7",
			"addon_id":     "fx-rates",
			"version":      "2.0.0",
			"download_url": "packages/fx-rates-2.0.0.zip",
			"checksum":     checksum,
		})
	})
	mux.HandleFunc("/packages/fx-rates-2.0.0.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/zip")
		_, _ = w.Write(pkg)
	})
	return newTestClient(t, mux)
}

func TestDownloadForReviewVerifiesChecksum(t *testing.T) {
	pkg := []byte("PK\x03\x04 pretend zip")
	sum := sha256.Sum256(pkg)

	t.Run("bare hex", func(t *testing.T) {
		data, err := storeWithPackage(t, pkg, hex.EncodeToString(sum[:])).DownloadForReview(context.Background(), "l-7")
		require.NoError(t, err)
		assert.Equal(t, pkg, data)
	})

	t.Run("prefixed", func(t *testing.T) {
		_, err := storeWithPackage(t, pkg, "sha256:"+hex.EncodeToString(sum[:])).DownloadForReview(context.Background(), "l-7")
		require.NoError(t, err)
	})

	t.Run("no checksum", func(t *testing.T) {
		_, err := storeWithPackage(t, pkg, "").DownloadForReview(context.Background(), "l-7")
		require.NoError(t, err)
	})

	t.Run("mismatch", func(t *testing.T) {
		_, err := storeWithPackage(t, pkg, strings.Repeat("0", 64)).DownloadForReview(context.Background(), "l-7")
		assert.True(t, types.IsPackageKind(err, types.Malformed))
	})
}

func TestDownloadStopsReadingAtLimit(t *testing.T) {
	const limit = 4 << 10
	var written int64
	done := make(chan struct{})
	mux := http.NewServeMux()
	mux.HandleFunc("/listings/l-9", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":           "l-9",
			"addon_id":     "huge",
			"download_url": "packages/huge.zip",
		})
	})
	mux.HandleFunc("/packages/huge.zip", func(w http.ResponseWriter, r *http.Request) {
		defer close(done)
		chunk := make([]byte, 32<<10)
		flusher, _ := w.(http.Flusher)
		// no Content-Length: the client has to cut the stream itself
		for i := 0; i < 2048; i++ {
			n, err := w.Write(chunk)
			atomic.AddInt64(&written, int64(n))
			if err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
	})
	c := newTestClient(t, mux)
	c.cfg.MaxDownloadSize = limit

	_, err := c.DownloadForReview(context.Background(), "l-9")
	require.Error(t, err)
	assert.True(t, types.IsPackageKind(err, types.Malformed))
	assert.Contains(t, err.Error(), "exceeds")

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("server kept streaming after the client gave up")
	}
	assert.Less(t, atomic.LoadInt64(&written), int64(2048*32<<10))
}

func TestDownloadRejectsDeclaredOversize(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/listings/l-8", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"id":           "l-8",
			"addon_id":     "big",
			"download_url": "packages/big.zip",
		})
	})
	mux.HandleFunc("/packages/big.zip", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		_, _ = w.Write(make([]byte, 1<<20))
	})
	c := newTestClient(t, mux)
	c.cfg.MaxDownloadSize = 1 << 10

	_, err := c.DownloadForReview(context.Background(), "l-8")
	assert.True(t, types.IsPackageKind(err, types.Malformed))
}

func TestDownloadMissingListing(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	_, err := c.DownloadForReview(context.Background(), "gone")
	assert.ErrorIs(t, err, types.ErrListingNotFound)
}

func TestNewRequiresBaseURL(t *testing.T) {
	_, err := New(Config{}, nil)
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"plain", "Just text", "Just text"},
		{"first paragraph", "<p>One</p><p>Two</p>", "One"},
		{"whitespace collapsed", "<div>a \n\n b</div>", "a b"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, summarize(tt.in))
		})
	}

	long := summarize("<p>" + strings.Repeat("word ", 100) + "</p>")
	assert.LessOrEqual(t, len([]rune(long)), maxSummaryRunes+1)
	assert.True(t, strings.HasSuffix(long, "…"))
}
