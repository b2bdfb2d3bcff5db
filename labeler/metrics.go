package labeler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sigil_likes_processed_total",
	Help: "Like events handled by the decision engine, by outcome.",
}, []string{"outcome"})

var labelsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sigil_labels_applied_total",
	Help: "Labels successfully applied, by category.",
}, []string{"category"})

var labelFailures = promauto.NewCounter(prometheus.CounterOpts{
	Name: "sigil_label_failures_total",
	Help: "Label application calls that returned an error.",
})
