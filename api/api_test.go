package api_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/baltar/lamina/api"
	"github.com/baltar/lamina/pkg/probes"
	"github.com/baltar/lamina/pkg/router"
	"github.com/baltar/lamina/pkg/scheduler"
)

func decodeJSON(resp *http.Response, v any) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

var _ = Describe("REST API", func() {
	var (
		sched    *scheduler.Scheduler
		registry *probes.Registry
		server   *httptest.Server
	)

	BeforeEach(func() {
		sched = scheduler.New(2, zap.NewNop())
		registry = probes.NewRegistry(zap.NewNop())
		local := router.NewLocal(zap.NewNop(), sched, registry, time.Hour)

		g := gin.New()
		api.CreateRestAPI(g, local, registry, zap.NewNop())
		server = httptest.NewServer(g)
	})

	AfterEach(func() {
		server.Close()
		sched.Close()
	})

	It("creates and lists probes", func() {
		resp, err := http.Post(server.URL+"/probes/sensors", "", nil)
		Expect(err).To(BeNil())
		Expect(resp.StatusCode).To(Equal(http.StatusCreated))
		resp.Body.Close()

		resp, err = http.Get(server.URL + "/probes")
		Expect(err).To(BeNil())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))

		var listed struct {
			Probes []string `json:"probes"`
		}
		Expect(decodeJSON(resp, &listed)).To(Succeed())
		Expect(listed.Probes).To(ConsistOf("sensors"))
	})

	Describe("event ingestion", func() {
		It("rejects events for an unknown probe", func() {
			resp, err := http.Post(server.URL+"/probes/missing/events", "application/json",
				strings.NewReader(`{"x": 1}`))
			Expect(err).To(BeNil())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
		})

		It("rejects a payload that is not JSON", func() {
			registry.GetOrAdd("sensors")

			resp, err := http.Post(server.URL+"/probes/sensors/events", "application/json",
				strings.NewReader(`{"x": `))
			Expect(err).To(BeNil())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("GET /subscribe", func() {
		It("rejects an invalid query", func() {
			resp, err := http.Get(server.URL + "/subscribe?q=" + url.QueryEscape("sensors.where("))
			Expect(err).To(BeNil())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
		})

		It("streams ingested events back over the websocket", func() {
			registry.GetOrAdd("sensors")

			wsURL := "ws" + strings.TrimPrefix(server.URL, "http") +
				"/subscribe?q=" + url.QueryEscape("&sensors")
			conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
			Expect(err).To(BeNil())
			defer conn.Close()

			resp, err := http.Post(server.URL+"/probes/sensors/events", "application/json",
				strings.NewReader(`{"x": {"y": 1}}`))
			Expect(err).To(BeNil())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusCreated))

			var msg struct {
				Timestamp time.Time `json:"timestamp"`
				Value     any       `json:"value"`
			}
			Expect(conn.SetReadDeadline(time.Now().Add(5 * time.Second))).To(Succeed())
			Expect(conn.ReadJSON(&msg)).To(Succeed())
			Expect(msg.Value).To(Equal(map[string]any{"x": map[string]any{"y": 1.0}}))
			Expect(msg.Timestamp.IsZero()).To(BeFalse())
		})
	})

	It("exposes cache entries", func() {
		registry.GetOrAdd("sensors")

		wsURL := "ws" + strings.TrimPrefix(server.URL, "http") +
			"/subscribe?q=" + url.QueryEscape("&sensors")
		conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		Expect(err).To(BeNil())
		defer conn.Close()

		resp, err := http.Get(server.URL + "/cache")
		Expect(err).To(BeNil())
		defer resp.Body.Close()

		var cacheView struct {
			Entries map[string]int `json:"entries"`
		}
		Expect(decodeJSON(resp, &cacheView)).To(Succeed())
		Expect(cacheView.Entries).To(HaveKeyWithValue("&sensors", 1))
	})

	It("serves prometheus metrics", func() {
		resp, err := http.Get(server.URL + "/metrics")
		Expect(err).To(BeNil())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})
})
