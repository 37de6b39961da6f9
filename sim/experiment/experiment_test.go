package experiment

import (
	"context"
	"errors"
	"fmt"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/inference-sim/simkernel/sim"
)

// tickModel schedules a tick every period with a random jitter and records
// the dispatch times.
type tickModel struct {
	period sim.Time
	limit  int
	trace  []string
	fail   error
}

func (m *tickModel) ConstructModel(s *sim.Simulator) error {
	rng := s.RNG().ForSubsystem(sim.SubsystemModel)
	n := 0
	var tick sim.Func
	tick = func() error {
		m.trace = append(m.trace, fmt.Sprintf("%s:%d", s.Now(), rng.Intn(1000)))
		n++
		if m.fail != nil && n == 3 {
			return m.fail
		}
		if m.limit > 0 && n >= m.limit {
			return nil
		}
		_, err := s.ScheduleEventRel(m.period, tick)
		return err
	}
	_, err := s.ScheduleEventAbs(s.Now(), tick)
	return err
}

var _ = Describe("Experiment", func() {
	var (
		mockCtrl *gomock.Controller
		exp      *Experiment
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		exp = &Experiment{
			Name:         "ticks",
			Seed:         42,
			Replications: 3,
			Start:        0,
			Warmup:       20,
			End:          100,
		}
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	Context("validation", func() {
		It("should reject an empty name", func() {
			exp.Name = ""
			Expect(exp.Validate()).To(MatchError(sim.ErrConfiguration))
		})

		It("should reject zero replications", func() {
			exp.Replications = 0
			Expect(exp.Validate()).To(MatchError(sim.ErrConfiguration))
		})

		It("should reject a warm-up after the end", func() {
			exp.Warmup = 200
			_, err := exp.Run(context.Background(), func(*sim.Replication) (sim.Model, error) {
				Fail("factory must not be called")
				return nil, nil
			})
			Expect(err).To(MatchError(sim.ErrConfiguration))
		})

		It("should reject a nil factory", func() {
			_, err := exp.Run(context.Background(), nil)
			Expect(err).To(MatchError(sim.ErrConfiguration))
		})
	})

	It("should notify listeners of warm-up and end in every replication", func() {
		listener := NewMockStatisticsListener(mockCtrl)
		for i := 0; i < exp.Replications; i++ {
			gomock.InOrder(
				listener.EXPECT().WarmupReached(gomock.Any(), sim.Time(20)),
				listener.EXPECT().ReplicationEnded(gomock.Any(), sim.Time(100)),
			)
		}
		exp.AddListener(listener)

		results, err := exp.Run(context.Background(), func(*sim.Replication) (sim.Model, error) {
			return &tickModel{period: 7}, nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(results).To(HaveLen(3))
		for i, r := range results {
			Expect(r.Name).To(Equal(exp.ReplicationName(i)))
			Expect(r.Seed).To(Equal(exp.ReplicationKey(r.Name)))
			Expect(r.Ended).To(BeTrue())
			Expect(r.EndTime).To(Equal(sim.Time(100)))
			Expect(r.Err).NotTo(HaveOccurred())
			// warm-up plus ticks at 0, 7, ..., 98
			Expect(r.Dispatched).To(Equal(uint64(1 + 15)))
		}
	})

	It("should end a replication whose calendar empties early", func() {
		listener := NewMockStatisticsListener(mockCtrl)
		exp.Replications = 1
		gomock.InOrder(
			listener.EXPECT().WarmupReached(gomock.Any(), sim.Time(20)),
			listener.EXPECT().ReplicationEnded(gomock.Any(), sim.Time(35)),
		)
		exp.AddListener(listener)

		results, err := exp.Run(context.Background(), func(*sim.Replication) (sim.Model, error) {
			return &tickModel{period: 5, limit: 8}, nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(results[0].Ended).To(BeTrue())
		Expect(results[0].EndTime).To(Equal(sim.Time(35)))
	})

	It("should derive distinct seeds and replay identically", func() {
		var first, second []*tickModel
		collect := func(into *[]*tickModel) Factory {
			return func(*sim.Replication) (sim.Model, error) {
				m := &tickModel{period: 9}
				*into = append(*into, m)
				return m, nil
			}
		}

		_, err := exp.Run(context.Background(), collect(&first))
		Expect(err).NotTo(HaveOccurred())
		_, err = exp.Run(context.Background(), collect(&second))
		Expect(err).NotTo(HaveOccurred())

		Expect(first).To(HaveLen(3))
		for i := range first {
			Expect(second[i].trace).To(Equal(first[i].trace))
		}
		Expect(first[0].trace).NotTo(Equal(first[1].trace))
		Expect(exp.ReplicationKey("a")).NotTo(Equal(exp.ReplicationKey("b")))
	})

	It("should record a failing replication and continue", func() {
		boom := errors.New("boom")
		calls := 0
		results, err := exp.Run(context.Background(), func(*sim.Replication) (sim.Model, error) {
			calls++
			m := &tickModel{period: 10}
			if calls == 2 {
				m.fail = boom
			}
			return m, nil
		})

		Expect(err).To(MatchError(boom))
		Expect(results).To(HaveLen(3))
		Expect(results[0].Err).NotTo(HaveOccurred())
		Expect(results[1].Err).To(MatchError(boom))
		Expect(results[1].Ended).To(BeFalse())
		Expect(results[1].EndTime).To(Equal(sim.Time(20)))
		Expect(results[2].Err).NotTo(HaveOccurred())
	})

	It("should report a factory error in the result", func() {
		exp.Replications = 1
		results, err := exp.Run(context.Background(), func(*sim.Replication) (sim.Model, error) {
			return nil, sim.ErrConfiguration
		})
		Expect(err).To(MatchError(sim.ErrConfiguration))
		Expect(results[0].Err).To(MatchError(sim.ErrConfiguration))
	})

	It("should configure each fresh simulator", func() {
		var seen []*sim.Simulator
		exp.OnSimulator(func(s *sim.Simulator) {
			Expect(s.State()).To(Equal(sim.NotInitialized))
			seen = append(seen, s)
		})

		_, err := exp.Run(context.Background(), func(*sim.Replication) (sim.Model, error) {
			return &tickModel{period: 50}, nil
		})

		Expect(err).NotTo(HaveOccurred())
		Expect(seen).To(HaveLen(3))
		Expect(seen[0]).NotTo(BeIdenticalTo(seen[1]))
		Expect(seen[2].Name()).To(Equal("ticks-rep-2"))
	})

	It("should not start when the context is already cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		results, err := exp.Run(ctx, func(*sim.Replication) (sim.Model, error) {
			Fail("factory must not be called")
			return nil, nil
		})
		Expect(err).To(MatchError(context.Canceled))
		Expect(results).To(BeEmpty())
	})

	It("should stop the running replication when the context is cancelled", func() {
		exp.End = sim.MaxTime
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		results, err := exp.Run(ctx, func(*sim.Replication) (sim.Model, error) {
			return sim.ModelFunc(func(s *sim.Simulator) error {
				var tick sim.Func
				tick = func() error {
					if s.Now() == 5 {
						cancel()
					}
					_, err := s.ScheduleEventRel(1, tick)
					return err
				}
				_, err := s.ScheduleEventAbs(0, tick)
				return err
			}), nil
		})

		Expect(err).To(MatchError(context.Canceled))
		Expect(results).To(HaveLen(1))
		Expect(results[0].Err).To(MatchError(context.Canceled))
		Expect(results[0].Ended).To(BeFalse())
		Expect(results[0].EndTime).To(BeNumerically(">=", 5))
	})
})
