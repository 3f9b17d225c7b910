/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ttx

// FlowStatus is the status of a flow, as seen by the node that initiated it
type FlowStatus string

const (
	// Drafted is the status of a flow whose proposal has not been sent yet
	Drafted FlowStatus = "Drafted"
	// CollectingSignatures is the status of a flow waiting for the signatures of its participants
	CollectingSignatures FlowStatus = "CollectingSignatures"
	// Finalized is the status of a flow whose transaction has been signed by every participant.
	// The participants commit it to their vaults.
	Finalized FlowStatus = "Finalized"
	// Aborted is the status of a flow that failed. No vault has been changed.
	Aborted FlowStatus = "Aborted"
)

// IsFinal returns true if no transition can leave s
func (s FlowStatus) IsFinal() bool {
	return s == Finalized || s == Aborted
}
