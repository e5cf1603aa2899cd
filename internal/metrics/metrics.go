package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"lumi/internal/domain"
)

var (
	// CommandsTotal counts backend commands by outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumi_commands_total",
		Help: "Backend commands issued by command and result",
	}, []string{"command", "result"})

	// StreamMessagesTotal counts push messages by stream kind and whether they were applied.
	StreamMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumi_stream_messages_total",
		Help: "Push stream messages by kind and outcome (applied, discarded, unknown)",
	}, []string{"kind", "outcome"})

	// StreamSubscriptionsOpen tracks live push connections.
	StreamSubscriptionsOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lumi_stream_subscriptions_open",
		Help: "Currently open push subscriptions by kind",
	}, []string{"kind"})

	// StreamErrorsTotal counts push channels that ended with an error.
	StreamErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumi_stream_errors_total",
		Help: "Push subscriptions terminated by a transport error",
	}, []string{"kind"})

	// DriveSessionsTotal counts started drive sessions.
	DriveSessionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lumi_drive_sessions_total",
		Help: "Drive sessions started",
	})

	// StatusTransitionsTotal counts status changes applied by the controller.
	StatusTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "lumi_status_transitions_total",
		Help: "Drowsiness status values applied from the status stream",
	}, []string{"status"})
)

// ObserveCommand records the outcome of one backend command.
func ObserveCommand(command domain.Command, err error) {
	result := "success"
	if err != nil {
		result = "failure"
	}
	CommandsTotal.WithLabelValues(string(command), result).Inc()
}

// ObserveStreamMessage records what happened to one push message.
func ObserveStreamMessage(kind domain.StreamKind, outcome string) {
	StreamMessagesTotal.WithLabelValues(string(kind), outcome).Inc()
}
