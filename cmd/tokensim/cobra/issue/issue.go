/*
Copyright IBM Corp. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package issue

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/hyperledger-labs/fabric-token-flows/token/sdk"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/config"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/logging"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"
)

var logger = logging.MustGetLogger("tokensim")

type Args struct {
	// ConfigFile is the configuration of the nodes and of the issuances to run
	ConfigFile string
	// OutputFile receives the report. The report is printed when empty.
	OutputFile string
}

// State is an unspent state as reported
type State struct {
	TxID      string `yaml:"txId"`
	Index     uint64 `yaml:"index"`
	AssetType string `yaml:"assetType"`
	Issuer    string `yaml:"issuer"`
	Quantity  uint64 `yaml:"quantity"`
}

type Node struct {
	Name     string  `yaml:"name"`
	Identity string  `yaml:"identity"`
	States   []State `yaml:"states"`
}

// Report lists the issued transactions and the vault of every node once they are finalized
type Report struct {
	Transactions []string `yaml:"transactions"`
	Nodes        []Node   `yaml:"nodes"`
}

// Cmd returns the Cobra Command for Issue
func Cmd() *cobra.Command {
	args := &Args{}
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Run the configured issuances.",
		Long:  "Run the configured issuances on a simulated network and print the vaults of the nodes.",
		RunE: func(cmd *cobra.Command, trailing []string) error {
			if len(trailing) != 0 {
				return fmt.Errorf("trailing args detected")
			}
			// Parsing of the command line is done so silence cmd usage
			cmd.SilenceUsage = true

			out := cmd.OutOrStdout()
			if len(args.OutputFile) != 0 {
				f, err := os.Create(args.OutputFile)
				if err != nil {
					return errors.Wrapf(err, "failed creating [%s]", args.OutputFile)
				}
				defer func() { _ = f.Close() }()
				out = f
			}
			return Run(cmd.Context(), args, out)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&args.ConfigFile, "config", "c", "", "path of the configuration file")
	flags.StringVarP(&args.OutputFile, "output", "o", "", "path of the report file")
	return cmd
}

// Run executes the issuances configured at args.ConfigFile and writes the report to out
func Run(ctx context.Context, args *Args, out io.Writer) error {
	cfg, err := config.Load(args.ConfigFile)
	if err != nil {
		return err
	}
	if err := logging.ActivateSpec(cfg.Logging.Spec); err != nil {
		return err
	}
	report, err := Simulate(ctx, cfg)
	if err != nil {
		return err
	}
	raw, err := yaml.Marshal(report)
	if err != nil {
		return errors.Wrap(err, "failed marshalling report")
	}
	_, err = out.Write(raw)
	return err
}

// Simulate creates the configured nodes, runs the issuances in order and collects the vaults
func Simulate(ctx context.Context, cfg *config.Config) (*Report, error) {
	network, err := sdk.NewMockNetwork(cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := network.StopNodes(); err != nil {
			logger.Warnf("failed stopping nodes: %s", err)
		}
	}()

	report := &Report{}
	for i, issuance := range cfg.Issuances {
		stx, err := network.Issue(ctx, issuance)
		if err != nil {
			return nil, errors.WithMessagef(err, "issuance [%d] failed", i)
		}
		logger.Infof("issuance [%d] finalized in [%s]", i, stx.ID())
		report.Transactions = append(report.Transactions, stx.ID())
	}
	for _, n := range network.Nodes() {
		states, err := n.VaultQuery(ctx)
		if err != nil {
			return nil, errors.WithMessagef(err, "failed querying vault of [%s]", n.Name())
		}
		node := Node{Name: n.Name(), Identity: n.Party().ID, States: []State{}}
		for _, s := range states {
			node.States = append(node.States, State{
				TxID:      s.Ref.TxID,
				Index:     s.Ref.Index,
				AssetType: s.State.AssetType.Tag,
				Issuer:    s.State.AssetType.Issuer.Name,
				Quantity:  s.State.Quantity,
			})
		}
		report.Nodes = append(report.Nodes, node)
	}
	return report, nil
}
