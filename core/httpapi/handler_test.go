package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/m3rciful/botengine/core/config"
	"github.com/m3rciful/botengine/core/engine"
	"github.com/m3rciful/botengine/core/httpapi"
	"github.com/m3rciful/botengine/core/store/memory"
)

type fakeDispatcher struct {
	mu      sync.Mutex
	calls   []string
	payload engine.Payload
	err     error
	panics  bool
}

func (f *fakeDispatcher) Dispatch(_ context.Context, m *engine.Messenger, req *engine.Request) (engine.Payload, error) {
	f.mu.Lock()
	f.calls = append(f.calls, m.Hash+":"+string(req.Body))
	f.mu.Unlock()
	if f.panics {
		panic("handler exploded")
	}
	return f.payload, f.err
}

type webhookAdapter struct {
	engine.MessengerAdapter
	enabled  []string
	disabled int
	err      error
}

func (w *webhookAdapter) EnableWebhook(_ context.Context, url string) error {
	w.enabled = append(w.enabled, url)
	return w.err
}

func (w *webhookAdapter) DisableWebhook(context.Context) error {
	w.disabled++
	return w.err
}

func (w *webhookAdapter) AccountInfo(context.Context) (engine.UserInfo, error) {
	return engine.UserInfo{Username: "engine_bot"}, nil
}

// cachingProvider hands out one adapter and records dropped cache entries.
type cachingProvider struct {
	adapter   engine.MessengerAdapter
	forgotten []int64
}

func (p *cachingProvider) Adapter(*engine.Messenger) (engine.MessengerAdapter, error) {
	return p.adapter, nil
}

func (p *cachingProvider) Forget(id int64) { p.forgotten = append(p.forgotten, id) }

var _ = Describe("Handler", func() {
	var (
		router     *gin.Engine
		dispatcher *fakeDispatcher
		adapter    *webhookAdapter
		provider   *cachingProvider
		store      *memory.Store
		messenger  *engine.Messenger
		cfg        config.Config
	)

	post := func(path, body string, header ...string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		if len(header) == 2 {
			req.Header.Set(header[0], header[1])
		}
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	build := func() {
		h := httpapi.NewHandler(dispatcher, store.Messengers(), provider, cfg.HTTP.PublicURL)
		router = httpapi.NewRouter(h, cfg)
	}

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		dispatcher = &fakeDispatcher{}
		adapter = &webhookAdapter{}
		provider = &cachingProvider{adapter: adapter}
		store = memory.New(nil)
		messenger = &engine.Messenger{Title: "bot", Token: "123:abc", APIType: engine.APITelegram}
		Expect(store.Messengers().Create(context.Background(), messenger)).To(Succeed())
		cfg = config.Config{HTTP: config.HTTPConfig{PublicURL: "https://bots.example", AdminToken: "s3cret"}}
		build()
	})

	Describe("POST /bot/:hash", func() {
		It("returns 404 for an unknown hash", func() {
			w := post("/bot/nope", "{}")
			Expect(w.Code).To(Equal(http.StatusNotFound))
			Expect(dispatcher.calls).To(BeEmpty())
		})

		It("returns an empty 200 when there is no payload", func() {
			w := post("/bot/"+messenger.Hash, `{"update_id":1}`)
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.Len()).To(BeZero())
			Expect(dispatcher.calls).To(ConsistOf(messenger.Hash + `:{"update_id":1}`))
		})

		It("returns the payload as JSON", func() {
			dispatcher.payload = map[string]any{"type": "text", "text": "hi"}
			w := post("/bot/"+messenger.Hash, "{}")
			Expect(w.Code).To(Equal(http.StatusOK))
			var got map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &got)).To(Succeed())
			Expect(got).To(HaveKeyWithValue("text", "hi"))
		})

		It("returns 406 when the payload cannot be parsed", func() {
			dispatcher.err = &engine.MessengerError{Err: errors.New("bad json")}
			w := post("/bot/"+messenger.Hash, "{")
			Expect(w.Code).To(Equal(http.StatusNotAcceptable))
		})

		It("swallows other dispatch failures", func() {
			dispatcher.err = errors.New("db down")
			w := post("/bot/"+messenger.Hash, "{}")
			Expect(w.Code).To(Equal(http.StatusOK))
		})

		It("recovers from panics", func() {
			dispatcher.panics = true
			w := post("/bot/"+messenger.Hash, "{}")
			Expect(w.Code).To(Equal(http.StatusInternalServerError))
		})

		It("echoes the request id", func() {
			w := post("/bot/"+messenger.Hash, "{}", "X-Request-Id", "abc-1")
			Expect(w.Header().Get("X-Request-Id")).To(Equal("abc-1"))
		})

		It("rate limits per messenger", func() {
			cfg.RateLimit = config.RateLimitConfig{RPS: 0.001, Burst: 1}
			build()
			Expect(post("/bot/"+messenger.Hash, "{}").Code).To(Equal(http.StatusOK))
			Expect(post("/bot/"+messenger.Hash, "{}").Code).To(Equal(http.StatusTooManyRequests))
			Expect(post("/bot/other", "{}").Code).To(Equal(http.StatusNotFound))
		})

		It("keeps no limiter state for unknown hashes", func() {
			h := httpapi.NewHandler(dispatcher, store.Messengers(), nil, "")
			limits := httpapi.NewLimiters(1, 1)
			router = gin.New()
			router.POST("/bot/:key", h.ResolveMessenger, httpapi.RateLimit(limits), h.Webhook)

			for i := 0; i < 50; i++ {
				Expect(post("/bot/random-"+strconv.Itoa(i), "{}").Code).To(Equal(http.StatusNotFound))
			}
			Expect(limits.Len()).To(BeZero())

			Expect(post("/bot/"+messenger.Hash, "{}").Code).To(Equal(http.StatusOK))
			Expect(limits.Len()).To(Equal(1))
			Expect(dispatcher.calls).To(HaveLen(1))
		})
	})

	Describe("webhook switch", func() {
		var path func(action string) string

		BeforeEach(func() {
			path = func(action string) string {
				return "/bot/" + strconv.FormatInt(messenger.ID, 10) + "/" + action
			}
		})

		It("rejects calls without the admin token", func() {
			Expect(post(path("enable"), "").Code).To(Equal(http.StatusUnauthorized))
			Expect(post(path("enable"), "", "Authorization", "Bearer wrong").Code).To(Equal(http.StatusUnauthorized))
			Expect(adapter.enabled).To(BeEmpty())
		})

		It("returns 404 for an unknown messenger", func() {
			w := post("/bot/999999/enable", "", "Authorization", "Bearer s3cret")
			Expect(w.Code).To(Equal(http.StatusNotFound))
		})

		It("enables and disables the webhook", func() {
			w := post(path("enable"), "", "Authorization", "Bearer s3cret")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(ContainSubstring(`"account":"engine_bot"`))
			Expect(adapter.enabled).To(ConsistOf("https://bots.example/bot/" + messenger.Hash))
			Expect(provider.forgotten).To(BeEmpty())
			got, _ := store.Messengers().GetByID(context.Background(), messenger.ID)
			Expect(got.IsActive).To(BeTrue())

			w = post(path("disable"), "", "Authorization", "Bearer s3cret")
			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(adapter.disabled).To(Equal(1))
			Expect(provider.forgotten).To(ConsistOf(messenger.ID))
			got, _ = store.Messengers().GetByID(context.Background(), messenger.ID)
			Expect(got.IsActive).To(BeFalse())
		})

		It("keeps the messenger inactive when the backend fails", func() {
			adapter.err = errors.New("telegram down")
			w := post(path("enable"), "", "Authorization", "Bearer s3cret")
			Expect(w.Code).To(Equal(http.StatusBadGateway))
			got, _ := store.Messengers().GetByID(context.Background(), messenger.ID)
			Expect(got.IsActive).To(BeFalse())
		})
	})

	It("serves health", func() {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		Expect(w.Code).To(Equal(http.StatusOK))
		Expect(w.Body.String()).To(ContainSubstring(`"status":"ok"`))
	})
})
