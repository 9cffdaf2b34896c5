package usecase

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the service counters. A nil *Metrics records nothing.
type Metrics struct {
	MessagesSent         prometheus.Counter
	ConversationsCreated prometheus.Counter
	RaceLost             prometheus.Counter
	SummaryWriteFailures *prometheus.CounterVec
}

// NewMetrics creates the counters and registers them on reg. A nil reg leaves
// them unregistered, which tests use to avoid the global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messenger_messages_sent_total",
			Help: "Messages durably written to messages_by_conversation.",
		}),
		ConversationsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messenger_conversations_created_total",
			Help: "Conversations created by a successful lookup claim.",
		}),
		RaceLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "messenger_conversation_race_lost_total",
			Help: "Candidate conversation ids discarded after losing the lookup claim.",
		}),
		SummaryWriteFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "messenger_summary_write_failures_total",
			Help: "Denormalized summary writes that failed after the message was stored.",
		}, []string{"table"}),
	}
	if reg != nil {
		reg.MustRegister(m.MessagesSent, m.ConversationsCreated, m.RaceLost, m.SummaryWriteFailures)
	}
	return m
}

func (m *Metrics) messageSent() {
	if m != nil {
		m.MessagesSent.Inc()
	}
}

func (m *Metrics) conversationCreated() {
	if m != nil {
		m.ConversationsCreated.Inc()
	}
}

func (m *Metrics) raceLost() {
	if m != nil {
		m.RaceLost.Inc()
	}
}

func (m *Metrics) summaryWriteFailed(table string) {
	if m != nil {
		m.SummaryWriteFailures.WithLabelValues(table).Inc()
	}
}
