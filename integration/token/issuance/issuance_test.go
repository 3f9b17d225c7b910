/*
Copyright IBM Corp All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package issuance

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperledger-labs/fabric-token-flows/token/sdk"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/config"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/ttx"
	"github.com/hyperledger-labs/fabric-token-flows/token/services/vault"
	"github.com/hyperledger-labs/fabric-token-flows/token/token"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
)

// PostgresEnv names the variable holding the data source of a postgres instance to test against
const PostgresEnv = "TOKENSIM_TEST_POSTGRES"

type backend struct {
	mode   string
	driver string
}

var backends = []backend{
	{mode: config.MockNetwork, driver: config.MemoryDriver},
	{mode: config.MockNetwork, driver: config.SQLiteDriver},
	{mode: config.MockNetwork, driver: config.PostgresDriver},
	{mode: config.InProcNetwork, driver: config.MemoryDriver},
	{mode: config.InProcNetwork, driver: config.SQLiteDriver},
}

var _ = Describe("EndToEnd", func() {
	for _, b := range backends {
		Describe("Issuance", Label(b.mode, b.driver), func() {
			var (
				ctx                context.Context
				network            *sdk.MockNetwork
				issuer, alice, bob *sdk.Node
				air                token.AssetType
			)

			BeforeEach(func() {
				ctx = context.Background()
				cfg := config.Default()
				cfg.Network.Mode = b.mode
				cfg.Flow.Timeout = 10 * time.Second
				cfg.AssetTypes = []string{"AIR"}
				cfg.Vault.Driver = b.driver
				switch b.driver {
				case config.SQLiteDriver:
					cfg.Vault.DataSource = filepath.Join(GinkgoT().TempDir(), "%s.db")
				case config.PostgresDriver:
					cfg.Vault.DataSource = os.Getenv(PostgresEnv)
					if len(cfg.Vault.DataSource) == 0 {
						Skip(PostgresEnv + " not set")
					}
					cfg.Vault.TablePrefix = "it"
				}
				cfg.Nodes = []config.Node{{Name: "issuer"}, {Name: "alice"}, {Name: "bob"}}

				var err error
				network, err = sdk.NewMockNetwork(cfg)
				Expect(err).NotTo(HaveOccurred())
				DeferCleanup(func() {
					Expect(network.StopNodes()).To(Succeed())
				})
				issuer, alice, bob = nodeOf(network, "issuer"), nodeOf(network, "alice"), nodeOf(network, "bob")
				air = token.AssetType{Issuer: issuer.Party(), Tag: "AIR"}
			})

			issue := func(holdings ...ttx.Holding) *ttx.SignedTransaction {
				h, err := issuer.Issue(ctx, "AIR", holdings)
				Expect(err).NotTo(HaveOccurred())
				stx, err := network.Await(ctx, h)
				Expect(err).NotTo(HaveOccurred())
				Expect(h.Status()).To(Equal(ttx.Finalized))
				return stx
			}

			It("records each holding in the vault of its holder", func() {
				stx := issue(
					ttx.Holding{Holder: alice.Party(), Quantity: 10},
					ttx.Holding{Holder: bob.Party(), Quantity: 5},
				)

				Expect(vaultOf(ctx, alice)).To(Equal(token.StatesAndRefs{{
					State: token.FungibleState{AssetType: air, Owner: alice.Party(), Quantity: 10},
					Ref:   token.StateRef{TxID: stx.ID(), Index: 0},
				}}))
				Expect(vaultOf(ctx, bob)).To(Equal(token.StatesAndRefs{{
					State: token.FungibleState{AssetType: air, Owner: bob.Party(), Quantity: 5},
					Ref:   token.StateRef{TxID: stx.ID(), Index: 1},
				}}))
				Expect(vaultOf(ctx, issuer)).To(BeEmpty())

				for _, n := range []*sdk.Node{issuer, alice, bob} {
					stored, err := n.Transaction(ctx, stx.ID())
					Expect(err).NotTo(HaveOccurred())
					Expect(stored.Signers()).To(ConsistOf(issuer.Party()))
				}
			})

			It("keeps sequential issuances apart", func() {
				first := issue(ttx.Holding{Holder: alice.Party(), Quantity: 10})
				second := issue(ttx.Holding{Holder: alice.Party(), Quantity: 10})
				Expect(first.ID()).NotTo(Equal(second.ID()))

				states := vaultOf(ctx, alice)
				Expect(states.Refs()).To(Equal([]token.StateRef{{TxID: first.ID()}, {TxID: second.ID()}}))
				Expect(states.Sum()).To(Equal(uint64(20)))
			})

			It("rejects unknown asset types before any message is sent", func() {
				_, err := issuer.Issue(ctx, "CAR", []ttx.Holding{{Holder: alice.Party(), Quantity: 1}})
				Expect(errors.Is(err, ttx.ErrUnknownAssetType)).To(BeTrue())
				Expect(network.RunNetwork()).To(Equal(0))
			})

			It("moves and destroys issued tokens", func() {
				issue(ttx.Holding{Holder: alice.Party(), Quantity: 10})

				h, err := alice.Transfer(ctx, vaultOf(ctx, alice), []token.FungibleState{
					{AssetType: air, Owner: bob.Party(), Quantity: 7},
					{AssetType: air, Owner: alice.Party(), Quantity: 3},
				})
				Expect(err).NotTo(HaveOccurred())
				_, err = network.Await(ctx, h)
				Expect(err).NotTo(HaveOccurred())
				Expect(vaultOf(ctx, alice).States()).To(Equal([]token.FungibleState{{AssetType: air, Owner: alice.Party(), Quantity: 3}}))
				Expect(vaultOf(ctx, bob).States()).To(Equal([]token.FungibleState{{AssetType: air, Owner: bob.Party(), Quantity: 7}}))

				h, err = bob.Redeem(ctx, vaultOf(ctx, bob))
				Expect(err).NotTo(HaveOccurred())
				stx, err := network.Await(ctx, h)
				Expect(err).NotTo(HaveOccurred())
				Expect(stx.Signers()).To(ConsistOf(issuer.Party(), bob.Party()))
				Expect(vaultOf(ctx, bob)).To(BeEmpty())
			})

			It("lets only one of two conflicting transfers through", func() {
				issue(ttx.Holding{Holder: alice.Party(), Quantity: 10})
				inputs := vaultOf(ctx, alice)

				toBob, err := alice.Transfer(ctx, inputs, []token.FungibleState{{AssetType: air, Owner: bob.Party(), Quantity: 10}})
				Expect(err).NotTo(HaveOccurred())
				toSelf, err := alice.Transfer(ctx, inputs, []token.FungibleState{
					{AssetType: air, Owner: alice.Party(), Quantity: 5},
					{AssetType: air, Owner: alice.Party(), Quantity: 5},
				})
				Expect(err).NotTo(HaveOccurred())
				network.RunNetwork()

				_, err1 := toBob.Wait(ctx)
				_, err2 := toSelf.Wait(ctx)
				Expect([]error{err1, err2}).To(ContainElement(BeNil()))
				failed := err1
				if failed == nil {
					failed = err2
				}
				Expect(failed).To(HaveOccurred())
				Expect(errors.Is(failed, ttx.ErrSignatureRejected)).To(BeTrue())

				// the loser released its reservations, the vaults hold the winner outputs only
				network.RunNetwork()
				total := uint64(0)
				for _, n := range []*sdk.Node{alice, bob} {
					sum, err := vaultOf(ctx, n).Sum()
					Expect(err).NotTo(HaveOccurred())
					total += sum
				}
				Expect(total).To(Equal(uint64(10)))
			})
		})
	}
})

func nodeOf(network *sdk.MockNetwork, name string) *sdk.Node {
	n, ok := network.Node(name)
	Expect(ok).To(BeTrue())
	return n
}

func vaultOf(ctx context.Context, n *sdk.Node, predicates ...vault.Predicate) token.StatesAndRefs {
	states, err := n.VaultQuery(ctx, predicates...)
	Expect(err).NotTo(HaveOccurred())
	return states
}
