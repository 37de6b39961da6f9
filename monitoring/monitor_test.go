package monitoring

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/inference-sim/simkernel/sim"
)

func do(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func decodeState(rec *httptest.ResponseRecorder) stateRsp {
	var rsp stateRsp
	Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
	return rsp
}

var _ = Describe("Monitor", func() {
	var (
		m      *Monitor
		s      *sim.Simulator
		router http.Handler
	)

	BeforeEach(func() {
		m = NewMonitor()
		s = sim.New("bank-rep-0", sim.NewSimulationKey(1))
		m.RegisterSimulator(s)
		router = m.Router()

		rep, err := sim.NewReplication("bank-rep-0", 0, 5, 100)
		Expect(err).NotTo(HaveOccurred())
		Expect(s.Initialize(sim.ModelFunc(func(s *sim.Simulator) error {
			for _, at := range []sim.Time{3, 7, 9} {
				if _, err := s.ScheduleEventAbs(at, sim.Func(func() error { return nil })); err != nil {
					return err
				}
			}
			return nil
		}), rep)).To(Succeed())
	})

	It("should report the clock", func() {
		Expect(s.RunUntil(7)).To(Succeed())

		rec := do(router, http.MethodGet, "/api/now")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(MatchJSON(`{"now":7}`))
	})

	It("should report the lifecycle state and counters", func() {
		rsp := decodeState(do(router, http.MethodGet, "/api/state"))
		Expect(rsp.State).To(Equal("INITIALIZED"))
		Expect(rsp.Replication).To(Equal("bank-rep-0"))
		Expect(rsp.Dispatched).To(BeZero())

		Expect(s.Start()).To(Succeed())

		rsp = decodeState(do(router, http.MethodGet, "/api/simulators/bank-rep-0"))
		Expect(rsp.State).To(Equal("STOPPED"))
		Expect(rsp.Now).To(Equal(int64(9)))
		Expect(rsp.Dispatched).To(Equal(uint64(4)))
		Expect(rsp.WarmedUp).To(BeTrue())
		Expect(rsp.Ended).To(BeFalse())
	})

	It("should refuse to stop a simulator that is not running", func() {
		rec := do(router, http.MethodPost, "/api/stop")
		Expect(rec.Code).To(Equal(http.StatusConflict))
	})

	It("should stop a running simulator", func() {
		var code int
		_, err := s.ScheduleEventAbs(8, sim.Func(func() error {
			code = do(router, http.MethodPost, "/api/stop").Code
			return nil
		}))
		Expect(err).NotTo(HaveOccurred())

		Expect(s.Start()).To(Succeed())
		Expect(code).To(Equal(http.StatusAccepted))
		Expect(s.Now()).To(Equal(sim.Time(8)))
		Expect(s.Pending()).To(Equal(1))
	})

	It("should return 404 for unknown simulators", func() {
		Expect(do(router, http.MethodGet, "/api/simulators/nope").Code).To(Equal(http.StatusNotFound))
		Expect(do(NewMonitor().Router(), http.MethodGet, "/api/now").Code).To(Equal(http.StatusNotFound))
	})

	It("should list every registered simulator", func() {
		m.RegisterSimulator(sim.New("bank-rep-1", sim.NewSimulationKey(2)))

		var rsp []stateRsp
		rec := do(router, http.MethodGet, "/api/simulators")
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp).To(HaveLen(2))
		Expect(rsp[1].Name).To(Equal("bank-rep-1"))
		Expect(rsp[1].State).To(Equal("NOT_INITIALIZED"))

		rsp0 := decodeState(do(router, http.MethodGet, "/api/state"))
		Expect(rsp0.Name).To(Equal("bank-rep-1"), "the latest registration is current")
	})

	It("should report process resources", func() {
		rec := do(router, http.MethodGet, "/api/resource")
		Expect(rec.Code).To(Equal(http.StatusOK))

		var rsp resourceRsp
		Expect(json.Unmarshal(rec.Body.Bytes(), &rsp)).To(Succeed())
		Expect(rsp.MemorySize).To(BeNumerically(">", 0))
	})

	It("should reject a malformed profile duration", func() {
		rec := do(router, http.MethodGet, "/api/profile?duration=soon")
		Expect(rec.Code).To(Equal(http.StatusBadRequest))
	})

	It("should collect a short CPU profile", func() {
		rec := do(router, http.MethodGet, "/api/profile?duration=20ms")
		Expect(rec.Code).To(Equal(http.StatusOK))
		Expect(rec.Body.String()).To(ContainSubstring("SampleType"))
	})
})
