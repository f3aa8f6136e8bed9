package settlement

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// engineABI describes the privileged entry points reachable through the
// authorization gateway. Payloads are standard ABI calldata.
const engineABI = `[
	{"type":"function","name":"recordFixtureResult","stateMutability":"nonpayable",
	 "inputs":[{"name":"fixture","type":"uint8"},{"name":"result","type":"uint8"}],"outputs":[]},
	{"type":"function","name":"calculatePoints","stateMutability":"nonpayable",
	 "inputs":[],"outputs":[]}
]`

const (
	methodRecordFixtureResult = "recordFixtureResult"
	methodCalculatePoints     = "calculatePoints"
)

var parsedABI = mustParseABI(engineABI)

// errReverted is returned for calldata the engine cannot interpret. It
// carries no domain kind.
var errReverted = errors.New("execution reverted")

func mustParseABI(def string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("settlement: parse abi: %v", err))
	}
	return a
}

// EncodeRecordFixtureResult builds the calldata for recording result on
// fixture.
func EncodeRecordFixtureResult(fixture int, result domain.Outcome) ([]byte, error) {
	if fixture < 0 || fixture > 255 {
		return nil, fmt.Errorf("settlement: encode call: %w: %d", domain.ErrInvalidFixture, fixture)
	}
	data, err := parsedABI.Pack(methodRecordFixtureResult, uint8(fixture), uint8(result))
	if err != nil {
		return nil, fmt.Errorf("settlement: encode call: %w", err)
	}
	return data, nil
}

// EncodeCalculatePoints builds the calldata that triggers scoring.
func EncodeCalculatePoints() []byte {
	data, err := parsedABI.Pack(methodCalculatePoints)
	if err != nil {
		// A method without inputs cannot fail to pack.
		panic(fmt.Sprintf("settlement: encode call: %v", err))
	}
	return data
}

// DescribeCall renders calldata as a method name and arguments for logs and
// the API. Unknown calldata is described as "unknown".
func DescribeCall(payload []byte) (string, map[string]any) {
	method, args, err := decodeCall(payload)
	if err != nil {
		return "unknown", nil
	}
	out := map[string]any{}
	if method.Name == methodRecordFixtureResult {
		fixture, _ := args[0].(uint8)
		result, _ := args[1].(uint8)
		out["fixture"] = int(fixture)
		out["result"] = domain.Outcome(result).String()
	}
	return method.Name, out
}

func decodeCall(payload []byte) (*abi.Method, []any, error) {
	if len(payload) < 4 {
		return nil, nil, errReverted
	}
	method, err := parsedABI.MethodById(payload[:4])
	if err != nil {
		return nil, nil, errReverted
	}
	args, err := method.Inputs.Unpack(payload[4:])
	if err != nil || len(args) != len(method.Inputs) {
		return nil, nil, errReverted
	}
	return method, args, nil
}

// Stage validates a forwarded calldata payload on behalf of caller and
// returns the resulting events without journaling them. The engine stays
// locked until the staged call is committed or aborted, so the caller can
// journal the events together with its own. Stage lets the engine serve as
// an authorization gateway target.
func (e *Engine) Stage(_ context.Context, caller common.Address, payload []byte) (domain.StagedCall, error) {
	method, args, err := decodeCall(payload)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	var ev domain.Event
	switch method.Name {
	case methodRecordFixtureResult:
		fixture, ok1 := args[0].(uint8)
		result, ok2 := args[1].(uint8)
		if !ok1 || !ok2 {
			err = errReverted
			break
		}
		ev, err = e.prepareResult(caller, int(fixture), domain.Outcome(result))
	case methodCalculatePoints:
		ev, err = e.prepareScoring(caller)
	default:
		err = errReverted
	}
	if err != nil {
		e.mu.Unlock()
		return nil, err
	}
	return &stagedCall{engine: e, events: []domain.Event{ev}}, nil
}

// stagedCall holds e.mu from Stage until Commit or Abort.
type stagedCall struct {
	engine *Engine
	events []domain.Event
	done   sync.Once
}

func (c *stagedCall) Events() []domain.Event {
	return append([]domain.Event(nil), c.events...)
}

func (c *stagedCall) Output() []byte { return nil }

// Commit applies the journaled copies of the staged events and releases the
// engine.
func (c *stagedCall) Commit(ctx context.Context, stored []domain.Event) {
	c.done.Do(func() {
		e := c.engine
		for _, ev := range stored {
			e.apply(ev)
			e.logCommitted(ctx, ev)
		}
		e.mu.Unlock()
	})
}

// Abort releases the engine without changing state.
func (c *stagedCall) Abort() {
	c.done.Do(c.engine.mu.Unlock)
}
