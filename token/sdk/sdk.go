/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sdk

import (
	"github.com/hyperledger-labs/fabric-token-flows/token/services/config"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/logging"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/network"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/network/inproc"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/network/mocknet"
)

var logger = logging.MustGetLogger("token-sdk")

func init() {
	network.Register(config.MockNetwork, mocknet.NewDriver())
	network.Register(config.InProcNetwork, inproc.NewDriver())
}
