package escrow

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"nftescrow/core/events"
)

type mockState struct {
	agreements map[[32]byte]*Agreement
	used       map[[32]byte]bool
	fee        uint8
	putErr     error
}

func newMockState(fee uint8) *mockState {
	return &mockState{
		agreements: make(map[[32]byte]*Agreement),
		used:       make(map[[32]byte]bool),
		fee:        fee,
	}
}

func (m *mockState) AgreementPut(a *Agreement) error {
	if m.putErr != nil {
		return m.putErr
	}
	sanitized, err := SanitizeAgreement(a)
	if err != nil {
		return err
	}
	m.agreements[sanitized.ID] = sanitized
	return nil
}

func (m *mockState) AgreementGet(id [32]byte) (*Agreement, bool, error) {
	a, ok := m.agreements[id]
	if !ok {
		return nil, false, nil
	}
	return a.Clone(), true, nil
}

func (m *mockState) IdentifierUsed(id [32]byte) (bool, error) { return m.used[id], nil }

func (m *mockState) MarkIdentifierUsed(id [32]byte) error {
	m.used[id] = true
	return nil
}

func (m *mockState) FeePercent() (uint8, error) { return m.fee, nil }

func (m *mockState) SetFeePercent(v uint8) error {
	m.fee = v
	return nil
}

type receiveHook func(from [20]byte, amount *big.Int) error

type mockVault struct {
	balances map[[20]byte]*big.Int
	hooks    map[[20]byte]receiveHook
}

func newMockVault() *mockVault {
	return &mockVault{balances: make(map[[20]byte]*big.Int), hooks: make(map[[20]byte]receiveHook)}
}

func (v *mockVault) balance(addr [20]byte) *big.Int {
	if bal, ok := v.balances[addr]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (v *mockVault) Balance(addr [20]byte) (*big.Int, error) { return v.balance(addr), nil }

func (v *mockVault) Send(from, to [20]byte, amount *big.Int) error {
	fromBal := v.balance(from)
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("insufficient balance")
	}
	toBal := v.balance(to)
	v.balances[from] = new(big.Int).Sub(fromBal, amount)
	v.balances[to] = new(big.Int).Add(toBal, amount)
	if hook, ok := v.hooks[to]; ok {
		if err := hook(from, amount); err != nil {
			v.balances[from] = fromBal
			v.balances[to] = toBal
			return err
		}
	}
	return nil
}

type mockRegistry struct {
	owners    map[string][20]byte
	approvals map[string][20]byte
	denyTo    map[[20]byte]bool
}

func newMockRegistry() *mockRegistry {
	return &mockRegistry{
		owners:    make(map[string][20]byte),
		approvals: make(map[string][20]byte),
		denyTo:    make(map[[20]byte]bool),
	}
}

func (r *mockRegistry) TransferFrom(operator, from, to [20]byte, assetID *big.Int) error {
	key := assetID.String()
	owner, ok := r.owners[key]
	if !ok {
		return fmt.Errorf("asset %s does not exist", key)
	}
	if owner != from {
		return fmt.Errorf("asset %s not owned by sender", key)
	}
	if operator != from && r.approvals[key] != operator {
		return fmt.Errorf("operator not approved for asset %s", key)
	}
	if r.denyTo[to] {
		return fmt.Errorf("recipient refuses asset")
	}
	delete(r.approvals, key)
	r.owners[key] = to
	return nil
}

func (r *mockRegistry) owner(assetID int64) [20]byte {
	return r.owners[big.NewInt(assetID).String()]
}

type mockDirectory map[[20]byte]AssetCustody

func (d mockDirectory) Custody(registry [20]byte) (AssetCustody, bool) {
	c, ok := d[registry]
	return c, ok
}

func newTestAddress(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

const testStart int64 = 1_700_000_000

type fixture struct {
	ledger   *Ledger
	state    *mockState
	vault    *mockVault
	registry *mockRegistry
	recorder *events.Recorder
	now      int64

	ledgerAddr   [20]byte
	admin        [20]byte
	seller       [20]byte
	buyer        [20]byte
	registryAddr [20]byte
}

func newFixture(t *testing.T, fee uint8) *fixture {
	t.Helper()
	f := &fixture{
		state:        newMockState(fee),
		vault:        newMockVault(),
		registry:     newMockRegistry(),
		recorder:     &events.Recorder{},
		now:          testStart,
		ledgerAddr:   newTestAddress(0xEE),
		admin:        newTestAddress(0xAD),
		seller:       newTestAddress(0x51),
		buyer:        newTestAddress(0xB1),
		registryAddr: newTestAddress(0x77),
	}
	f.ledger = NewLedger(f.ledgerAddr, f.admin)
	f.ledger.SetState(f.state)
	f.ledger.SetValueTransfer(f.vault)
	f.ledger.SetCustody(mockDirectory{f.registryAddr: f.registry})
	f.ledger.SetEmitter(f.recorder)
	f.ledger.SetNowFunc(func() int64 { return f.now })

	f.registry.owners["0"] = f.seller
	f.registry.approvals["0"] = f.ledgerAddr
	f.vault.balances[f.buyer] = big.NewInt(1_000)
	return f
}

func (f *fixture) open(t *testing.T, id [32]byte, price int64) *Agreement {
	t.Helper()
	agreement, err := f.ledger.Open(f.seller, id, big.NewInt(0), big.NewInt(price), f.registryAddr, f.buyer)
	require.NoError(t, err)
	return agreement
}

func (f *fixture) status(t *testing.T, id [32]byte) Status {
	t.Helper()
	agreement, err := f.ledger.Agreement(id)
	require.NoError(t, err)
	return agreement.Status
}

func testID(v uint64) [32]byte {
	var id [32]byte
	new(big.Int).SetUint64(v).FillBytes(id[:])
	return id
}

func TestOpenTakesCustodyAndRecordsAgreement(t *testing.T) {
	f := newFixture(t, 2)
	id := testID(42)

	agreement := f.open(t, id, 100)

	require.Equal(t, StatusPending, agreement.Status)
	require.Equal(t, f.seller, agreement.Seller)
	require.Equal(t, f.buyer, agreement.Buyer)
	require.Equal(t, testStart+86_400, agreement.Deadline)
	require.Equal(t, testStart, agreement.CreatedAt)
	require.Equal(t, f.ledgerAddr, f.registry.owner(0))

	used, err := f.ledger.IdentifierUsed(id)
	require.NoError(t, err)
	require.True(t, used)

	evts := f.recorder.Events()
	require.Len(t, evts, 1)
	require.Equal(t, EventTypeAgreementOpened, evts[0].Type)
	require.Equal(t, "42", evts[0].Attributes["id"])
	require.Equal(t, "0", evts[0].Attributes["assetId"])
	require.Equal(t, "100", evts[0].Attributes["price"])
}

func TestOpenValidation(t *testing.T) {
	cases := []struct {
		name     string
		price    *big.Int
		registry func(f *fixture) [20]byte
		buyer    func(f *fixture) [20]byte
		want     error
	}{
		{"zero price", big.NewInt(0), func(f *fixture) [20]byte { return f.registryAddr }, func(f *fixture) [20]byte { return f.buyer }, ErrInvalidPrice},
		{"nil price", nil, func(f *fixture) [20]byte { return f.registryAddr }, func(f *fixture) [20]byte { return f.buyer }, ErrInvalidPrice},
		{"null registry", big.NewInt(5), func(*fixture) [20]byte { return [20]byte{} }, func(f *fixture) [20]byte { return f.buyer }, ErrInvalidAddress},
		{"null buyer", big.NewInt(5), func(f *fixture) [20]byte { return f.registryAddr }, func(*fixture) [20]byte { return [20]byte{} }, ErrInvalidAddress},
		{"unknown registry", big.NewInt(5), func(*fixture) [20]byte { return newTestAddress(0x99) }, func(f *fixture) [20]byte { return f.buyer }, ErrCustodyTransferDenied},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, 2)
			id := testID(7)
			_, err := f.ledger.Open(f.seller, id, big.NewInt(0), tc.price, tc.registry(f), tc.buyer(f))
			require.ErrorIs(t, err, tc.want)

			used, err := f.ledger.IdentifierUsed(id)
			require.NoError(t, err)
			require.False(t, used)
			require.Equal(t, f.seller, f.registry.owner(0))
			require.Empty(t, f.recorder.Events())
		})
	}
}

func TestOpenRejectsInvalidAssetID(t *testing.T) {
	for _, assetID := range []*big.Int{nil, big.NewInt(-1)} {
		f := newFixture(t, 2)
		_, err := f.ledger.Open(f.seller, testID(8), assetID, big.NewInt(10), [20]byte{}, f.buyer)
		require.ErrorIs(t, err, ErrInvalidAssetID)
		require.Equal(t, f.seller, f.registry.owner(0))
	}
}

func TestOpenWithoutApprovalIsDenied(t *testing.T) {
	f := newFixture(t, 2)
	delete(f.registry.approvals, "0")
	id := testID(9)

	_, err := f.ledger.Open(f.seller, id, big.NewInt(0), big.NewInt(10), f.registryAddr, f.buyer)
	require.ErrorIs(t, err, ErrCustodyTransferDenied)

	_, err = f.ledger.Agreement(id)
	require.ErrorIs(t, err, ErrAgreementNotFound)
	used, err := f.ledger.IdentifierUsed(id)
	require.NoError(t, err)
	require.False(t, used)
}

func TestOpenByNonOwnerIsDenied(t *testing.T) {
	f := newFixture(t, 2)
	_, err := f.ledger.Open(f.buyer, testID(1), big.NewInt(0), big.NewInt(10), f.registryAddr, f.seller)
	require.ErrorIs(t, err, ErrCustodyTransferDenied)
}

func TestOpenReturnsAssetWhenStoreFails(t *testing.T) {
	f := newFixture(t, 2)
	f.state.putErr = errors.New("disk full")

	_, err := f.ledger.Open(f.seller, testID(3), big.NewInt(0), big.NewInt(10), f.registryAddr, f.buyer)
	require.ErrorContains(t, err, "disk full")
	require.Equal(t, f.seller, f.registry.owner(0))
	require.Empty(t, f.recorder.Events())
}

func TestOpenReportsFailedAssetReturn(t *testing.T) {
	f := newFixture(t, 2)
	f.state.putErr = errors.New("disk full")
	f.registry.denyTo[f.seller] = true

	_, err := f.ledger.Open(f.seller, testID(4), big.NewInt(0), big.NewInt(10), f.registryAddr, f.buyer)
	require.ErrorContains(t, err, "disk full")
	require.ErrorIs(t, err, ErrCustodyTransferDenied)
	require.Equal(t, f.ledgerAddr, f.registry.owner(0))
	require.Equal(t, []string{EventTypeSettlementIncomplete}, f.recorder.Types())
	require.Equal(t, LegAsset, f.recorder.Events()[0].Attributes["leg"])
}

func TestOpenRejectsReusedIdentifierInAnyState(t *testing.T) {
	f := newFixture(t, 2)
	id := testID(11)
	f.open(t, id, 100)
	require.NoError(t, f.ledger.Reject(f.buyer, id))

	f.registry.approvals["0"] = f.ledgerAddr
	_, err := f.ledger.Open(f.seller, id, big.NewInt(0), big.NewInt(100), f.registryAddr, f.buyer)
	require.ErrorIs(t, err, ErrIdentifierReused)
	require.Equal(t, StatusRejected, f.status(t, id))
	require.Equal(t, f.seller, f.registry.owner(0))
}

func TestOpenRejectsReusedIdentifierWhilePending(t *testing.T) {
	f := newFixture(t, 2)
	id := testID(12)
	f.open(t, id, 100)

	f.registry.owners["1"] = f.seller
	f.registry.approvals["1"] = f.ledgerAddr
	_, err := f.ledger.Open(f.seller, id, big.NewInt(1), big.NewInt(1), f.registryAddr, f.buyer)
	require.ErrorIs(t, err, ErrIdentifierReused)

	stored, err := f.ledger.Agreement(id)
	require.NoError(t, err)
	require.Equal(t, int64(100), stored.Price.Int64())
	require.Equal(t, int64(0), stored.AssetID.Int64())
}

func TestPaySettlesAndSplitsFee(t *testing.T) {
	f := newFixture(t, 2)
	id := testID(21)
	f.open(t, id, 100)
	f.now = testStart + 60

	require.NoError(t, f.ledger.Pay(f.buyer, id, big.NewInt(100)))

	require.Equal(t, StatusAccepted, f.status(t, id))
	require.Equal(t, f.buyer, f.registry.owner(0))
	require.Equal(t, int64(98), f.vault.balance(f.seller).Int64())
	require.Equal(t, int64(2), f.vault.balance(f.ledgerAddr).Int64())
	require.Equal(t, int64(900), f.vault.balance(f.buyer).Int64())

	stored, err := f.ledger.Agreement(id)
	require.NoError(t, err)
	require.Equal(t, testStart+60, stored.SettledAt)

	evts := f.recorder.Events()
	require.Equal(t, []string{EventTypeAgreementOpened, EventTypeAgreementPaid}, f.recorder.Types())
	paid := evts[1]
	require.Equal(t, "21", paid.Attributes["id"])
	require.Equal(t, "1700000060", paid.Attributes["timestamp"])
	require.Equal(t, "100", paid.Attributes["price"])

	err = f.ledger.Pay(f.buyer, id, big.NewInt(100))
	require.ErrorIs(t, err, ErrNotPending)
	require.Equal(t, int64(900), f.vault.balance(f.buyer).Int64())
}

func TestPayGuards(t *testing.T) {
	f := newFixture(t, 2)
	id := testID(22)
	f.open(t, id, 100)

	require.ErrorIs(t, f.ledger.Pay(f.seller, id, big.NewInt(100)), ErrNotAuthorized)
	require.ErrorIs(t, f.ledger.Pay(f.buyer, testID(999), big.NewInt(100)), ErrAgreementNotFound)
	require.ErrorIs(t, f.ledger.Pay(f.buyer, id, big.NewInt(99)), ErrIncorrectPayment)
	require.ErrorIs(t, f.ledger.Pay(f.buyer, id, nil), ErrIncorrectPayment)

	f.now = testStart + 86_400
	require.ErrorIs(t, f.ledger.Pay(f.buyer, id, big.NewInt(100)), ErrDeadlineExpired)

	require.Equal(t, StatusPending, f.status(t, id))
	require.Equal(t, int64(1_000), f.vault.balance(f.buyer).Int64())
}

func TestPayWithoutFundsLeavesAgreementPending(t *testing.T) {
	f := newFixture(t, 2)
	id := testID(23)
	f.open(t, id, 5_000)

	err := f.ledger.Pay(f.buyer, id, big.NewInt(5_000))
	require.ErrorIs(t, err, ErrTransferFailed)
	require.Equal(t, StatusPending, f.status(t, id))
	require.Equal(t, f.ledgerAddr, f.registry.owner(0))
}

func TestPayWithRejectingSellerKeepsAcceptedStatus(t *testing.T) {
	f := newFixture(t, 2)
	id := testID(24)
	f.open(t, id, 100)
	f.vault.hooks[f.seller] = func([20]byte, *big.Int) error { return errors.New("seller contract reverted") }

	err := f.ledger.Pay(f.buyer, id, big.NewInt(100))
	require.ErrorIs(t, err, ErrTransferFailed)
	require.ErrorContains(t, err, "seller contract reverted")

	require.Equal(t, StatusAccepted, f.status(t, id))
	require.Equal(t, int64(100), f.vault.balance(f.ledgerAddr).Int64())
	require.Equal(t, f.ledgerAddr, f.registry.owner(0))

	evts := f.recorder.Events()
	require.Equal(t, []string{EventTypeAgreementOpened, EventTypeSettlementIncomplete}, f.recorder.Types())
	require.Equal(t, LegPayout, evts[1].Attributes["leg"])

	require.ErrorIs(t, f.ledger.Pay(f.buyer, id, big.NewInt(100)), ErrNotPending)
}

func TestPayWithRefusedAssetDeliveryIsSurfaced(t *testing.T) {
	f := newFixture(t, 0)
	id := testID(25)
	f.open(t, id, 100)
	f.registry.denyTo[f.buyer] = true

	err := f.ledger.Pay(f.buyer, id, big.NewInt(100))
	require.ErrorIs(t, err, ErrCustodyTransferDenied)
	require.Equal(t, StatusAccepted, f.status(t, id))
	require.Equal(t, int64(100), f.vault.balance(f.seller).Int64())

	evts := f.recorder.Events()
	require.Equal(t, LegAsset, evts[len(evts)-1].Attributes["leg"])
}

func TestPayReportsFailedRefund(t *testing.T) {
	f := newFixture(t, 2)
	id := testID(27)
	f.open(t, id, 100)
	f.state.putErr = errors.New("disk full")
	f.vault.hooks[f.buyer] = func([20]byte, *big.Int) error { return errors.New("buyer contract reverted") }

	err := f.ledger.Pay(f.buyer, id, big.NewInt(100))
	require.ErrorContains(t, err, "disk full")
	require.ErrorIs(t, err, ErrTransferFailed)
	require.Equal(t, int64(100), f.vault.balance(f.ledgerAddr).Int64())

	evts := f.recorder.Events()
	require.Equal(t, EventTypeSettlementIncomplete, evts[len(evts)-1].Type)
	require.Equal(t, LegRefund, evts[len(evts)-1].Attributes["leg"])
}

func TestPayRefundsWhenStoreFails(t *testing.T) {
	f := newFixture(t, 2)
	id := testID(28)
	f.open(t, id, 100)
	f.state.putErr = errors.New("disk full")

	err := f.ledger.Pay(f.buyer, id, big.NewInt(100))
	require.ErrorContains(t, err, "disk full")
	require.NotErrorIs(t, err, ErrTransferFailed)
	require.Equal(t, int64(1_000), f.vault.balance(f.buyer).Int64())
	require.Zero(t, f.vault.balance(f.ledgerAddr).Sign())
	require.Equal(t, []string{EventTypeAgreementOpened}, f.recorder.Types())
}

func TestReentrantCallsFromPayoutHookSeeTerminalStatus(t *testing.T) {
	f := newFixture(t, 2)
	id := testID(26)
	f.open(t, id, 100)

	var reentrant []error
	f.vault.hooks[f.seller] = func([20]byte, *big.Int) error {
		f.now = testStart + 86_401
		reentrant = append(reentrant, f.ledger.Cancel(f.seller, id))
		f.now = testStart + 10
		reentrant = append(reentrant, f.ledger.Reject(f.buyer, id))
		reentrant = append(reentrant, f.ledger.Pay(f.buyer, id, big.NewInt(100)))
		return nil
	}
	f.now = testStart + 10

	require.NoError(t, f.ledger.Pay(f.buyer, id, big.NewInt(100)))
	require.Len(t, reentrant, 3)
	for _, err := range reentrant {
		require.ErrorIs(t, err, ErrNotPending)
	}
	require.Equal(t, StatusAccepted, f.status(t, id))
	require.Equal(t, f.buyer, f.registry.owner(0))
	require.Equal(t, int64(98), f.vault.balance(f.seller).Int64())
}

func TestCancelBoundaryIsExclusive(t *testing.T) {
	f := newFixture(t, 2)
	id := testID(31)
	agreement := f.open(t, id, 100)

	f.now = agreement.Deadline
	require.ErrorIs(t, f.ledger.Cancel(f.seller, id), ErrDeadlineNotReached)

	f.now = agreement.Deadline + 1
	require.ErrorIs(t, f.ledger.Cancel(f.buyer, id), ErrNotAuthorized)
	require.NoError(t, f.ledger.Cancel(f.seller, id))

	require.Equal(t, StatusCancelled, f.status(t, id))
	require.Equal(t, f.seller, f.registry.owner(0))

	evts := f.recorder.Events()
	require.Equal(t, EventTypeAgreementCancelled, evts[len(evts)-1].Type)
	require.NotEmpty(t, evts[len(evts)-1].Attributes["assetRegistry"])

	require.ErrorIs(t, f.ledger.Pay(f.buyer, id, big.NewInt(100)), ErrDeadlineExpired)
	require.ErrorIs(t, f.ledger.Cancel(f.seller, id), ErrNotPending)
}

func TestRejectReturnsAssetToSeller(t *testing.T) {
	f := newFixture(t, 2)
	id := testID(41)
	f.open(t, id, 100)

	require.ErrorIs(t, f.ledger.Reject(f.seller, id), ErrNotAuthorized)
	require.NoError(t, f.ledger.Reject(f.buyer, id))

	require.Equal(t, StatusRejected, f.status(t, id))
	require.Equal(t, f.seller, f.registry.owner(0))
	require.Equal(t, int64(1_000), f.vault.balance(f.buyer).Int64())
	require.Zero(t, f.vault.balance(f.ledgerAddr).Sign())
	require.Equal(t, []string{EventTypeAgreementOpened, EventTypeAgreementRejected}, f.recorder.Types())

	require.ErrorIs(t, f.ledger.Pay(f.buyer, id, big.NewInt(100)), ErrNotPending)
}

func TestRejectAfterDeadlineExpired(t *testing.T) {
	f := newFixture(t, 2)
	id := testID(42)
	agreement := f.open(t, id, 100)

	f.now = agreement.Deadline
	require.ErrorIs(t, f.ledger.Reject(f.buyer, id), ErrDeadlineExpired)
	require.Equal(t, StatusPending, f.status(t, id))
}

func TestRefusedAssetReturnKeepsAgreementPending(t *testing.T) {
	resolutions := map[string]func(f *fixture, id [32]byte) error{
		"cancel": func(f *fixture, id [32]byte) error {
			f.now = testStart + 86_401
			return f.ledger.Cancel(f.seller, id)
		},
		"reject": func(f *fixture, id [32]byte) error { return f.ledger.Reject(f.buyer, id) },
	}
	for name, resolve := range resolutions {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, 2)
			id := testID(43)
			f.open(t, id, 100)
			f.registry.denyTo[f.seller] = true

			require.ErrorIs(t, resolve(f, id), ErrCustodyTransferDenied)
			stored, err := f.ledger.Agreement(id)
			require.NoError(t, err)
			require.Equal(t, StatusPending, stored.Status)
			require.Zero(t, stored.SettledAt)
			require.Equal(t, f.ledgerAddr, f.registry.owner(0))
			require.Equal(t, []string{EventTypeAgreementOpened}, f.recorder.Types())

			f.registry.denyTo[f.seller] = false
			require.NoError(t, resolve(f, id))
			require.NotEqual(t, StatusPending, f.status(t, id))
			require.Equal(t, f.seller, f.registry.owner(0))
		})
	}
}

func TestTerminalStatesNeverChange(t *testing.T) {
	resolutions := map[Status]func(f *fixture, id [32]byte) error{
		StatusAccepted: func(f *fixture, id [32]byte) error { return f.ledger.Pay(f.buyer, id, big.NewInt(100)) },
		StatusRejected: func(f *fixture, id [32]byte) error { return f.ledger.Reject(f.buyer, id) },
		StatusCancelled: func(f *fixture, id [32]byte) error {
			f.now = testStart + 86_401
			return f.ledger.Cancel(f.seller, id)
		},
	}
	for want, resolve := range resolutions {
		t.Run(want.String(), func(t *testing.T) {
			f := newFixture(t, 2)
			id := testID(50)
			f.open(t, id, 100)
			require.NoError(t, resolve(f, id))
			require.Equal(t, want, f.status(t, id))

			for _, now := range []int64{testStart + 1, testStart + 86_401} {
				f.now = now
				_ = f.ledger.Pay(f.buyer, id, big.NewInt(100))
				_ = f.ledger.Reject(f.buyer, id)
				_ = f.ledger.Cancel(f.seller, id)
				require.Equal(t, want, f.status(t, id))
			}
		})
	}
}

func TestFeeChangeAppliesToPendingAgreementAtSettlement(t *testing.T) {
	f := newFixture(t, 2)
	id := testID(60)
	f.open(t, id, 100)

	require.ErrorIs(t, f.ledger.SetFeePercent(f.seller, 10), ErrUnauthorized)
	require.ErrorIs(t, f.ledger.SetFeePercent(f.admin, 101), ErrInvalidFee)
	require.NoError(t, f.ledger.SetFeePercent(f.admin, 10))

	fee, err := f.ledger.FeePercent()
	require.NoError(t, err)
	require.Equal(t, uint8(10), fee)

	require.NoError(t, f.ledger.Pay(f.buyer, id, big.NewInt(100)))
	require.Equal(t, int64(90), f.vault.balance(f.seller).Int64())

	evts := f.recorder.Events()
	require.Equal(t, EventTypeFeeUpdated, evts[1].Type)
	require.Equal(t, "2", evts[1].Attributes["previous"])
	require.Equal(t, "10", evts[1].Attributes["current"])
}

func TestWithdrawFeesSweepsBalance(t *testing.T) {
	f := newFixture(t, 2)
	id := testID(70)
	f.open(t, id, 100)
	require.NoError(t, f.ledger.Pay(f.buyer, id, big.NewInt(100)))

	_, err := f.ledger.WithdrawFees(f.seller)
	require.ErrorIs(t, err, ErrUnauthorized)

	amount, err := f.ledger.WithdrawFees(f.admin)
	require.NoError(t, err)
	require.Equal(t, int64(2), amount.Int64())
	require.Equal(t, int64(2), f.vault.balance(f.admin).Int64())
	require.Zero(t, f.vault.balance(f.ledgerAddr).Sign())

	amount, err = f.ledger.WithdrawFees(f.admin)
	require.NoError(t, err)
	require.Zero(t, amount.Sign())
	require.Equal(t, EventTypeFeesWithdrawn, f.recorder.Types()[len(f.recorder.Types())-1])
}

func TestWithdrawFeesToRejectingAdminFails(t *testing.T) {
	f := newFixture(t, 50)
	id := testID(71)
	f.open(t, id, 100)
	require.NoError(t, f.ledger.Pay(f.buyer, id, big.NewInt(100)))
	f.vault.hooks[f.admin] = func([20]byte, *big.Int) error { return errors.New("no receive function") }

	_, err := f.ledger.WithdrawFees(f.admin)
	require.ErrorIs(t, err, ErrTransferFailed)
	require.Equal(t, int64(50), f.vault.balance(f.ledgerAddr).Int64())
}

func TestUnconfiguredLedger(t *testing.T) {
	ledger := NewLedger(newTestAddress(1), newTestAddress(2))
	_, err := ledger.Open(newTestAddress(3), testID(1), big.NewInt(0), big.NewInt(1), newTestAddress(4), newTestAddress(5))
	require.ErrorIs(t, err, ErrNotConfigured)
	require.ErrorIs(t, ledger.Pay(newTestAddress(5), testID(1), big.NewInt(1)), ErrNotConfigured)
	_, err = ledger.Agreement(testID(1))
	require.ErrorIs(t, err, ErrNotConfigured)
}

func TestScenarioDeriveOpenPay(t *testing.T) {
	f := newFixture(t, 2)
	id := DeriveIdentifier(f.seller, f.buyer, f.registryAddr, SecretFromText("test"))

	f.open(t, id, 500)
	require.NoError(t, f.ledger.Pay(f.buyer, id, big.NewInt(500)))
	require.Equal(t, f.buyer, f.registry.owner(0))
	require.Equal(t, int64(490), f.vault.balance(f.seller).Int64())
	require.Equal(t, int64(10), f.vault.balance(f.ledgerAddr).Int64())
}
