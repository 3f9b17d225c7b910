/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ttx

import (
	"github.com/hyperledger-labs/fabric-token-flows/token/core/common/metrics"
)

const reasonLabel metrics.MetricLabel = "reason"

var (
	initiatedFlows = metrics.CounterOpts{
		Namespace:  "ttx",
		Name:       "initiated_flows",
		Help:       "The number of flows initiated by the node.",
		LabelNames: metrics.AllLabelNames(),
	}
	finalizedFlows = metrics.CounterOpts{
		Namespace:  "ttx",
		Name:       "finalized_flows",
		Help:       "The number of flows initiated by the node that reached finality.",
		LabelNames: metrics.AllLabelNames(),
	}
	abortedFlows = metrics.CounterOpts{
		Namespace:  "ttx",
		Name:       "aborted_flows",
		Help:       "The number of flows initiated by the node that were aborted.",
		LabelNames: metrics.AllLabelNames(reasonLabel),
	}
	flowDuration = metrics.HistogramOpts{
		Namespace:  "ttx",
		Name:       "flow_duration_seconds",
		Help:       "The time from initiation to finality of the flows initiated by the node.",
		LabelNames: metrics.AllLabelNames(),
	}
	signedTransactions = metrics.CounterOpts{
		Namespace:  "ttx",
		Name:       "signed_transactions",
		Help:       "The number of transactions signed by the node.",
		LabelNames: metrics.AllLabelNames(),
	}
	rejectedTransactions = metrics.CounterOpts{
		Namespace:  "ttx",
		Name:       "rejected_transactions",
		Help:       "The number of transactions the node declined to sign.",
		LabelNames: metrics.AllLabelNames(reasonLabel),
	}
	openFlows = metrics.GaugeOpts{
		Namespace:  "ttx",
		Name:       "open_flows",
		Help:       "The number of flows initiated by the node that are not resolved yet.",
		LabelNames: metrics.AllLabelNames(),
	}
	pendingProposals = metrics.GaugeOpts{
		Namespace:  "ttx",
		Name:       "pending_proposals",
		Help:       "The number of transactions signed by the node and waiting to be finalized or aborted.",
		LabelNames: metrics.AllLabelNames(),
	}
)

type Metrics struct {
	InitiatedFlows       metrics.Counter
	FinalizedFlows       metrics.Counter
	AbortedFlows         metrics.Counter
	FlowDuration         metrics.Histogram
	SignedTransactions   metrics.Counter
	RejectedTransactions metrics.Counter
	OpenFlows            metrics.Gauge
	PendingProposals     metrics.Gauge
}

// NewMetrics expects a provider adding the node label, see metrics.NewNodeProvider
func NewMetrics(p metrics.Provider) *Metrics {
	return &Metrics{
		InitiatedFlows:       p.NewCounter(initiatedFlows),
		FinalizedFlows:       p.NewCounter(finalizedFlows),
		AbortedFlows:         p.NewCounter(abortedFlows),
		FlowDuration:         p.NewHistogram(flowDuration),
		SignedTransactions:   p.NewCounter(signedTransactions),
		RejectedTransactions: p.NewCounter(rejectedTransactions),
		OpenFlows:            p.NewGauge(openFlows),
		PendingProposals:     p.NewGauge(pendingProposals),
	}
}
