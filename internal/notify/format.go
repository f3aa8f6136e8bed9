package notify

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/prodepool/internal/domain"
)

// CallDescriber names the administrative call carried by a gateway payload.
type CallDescriber func(payload []byte) (string, map[string]any)

// Formatter turns pool events into notification text.
type Formatter struct {
	pool     string
	describe CallDescriber
}

// NewFormatter creates a Formatter for pool. describe may be nil.
func NewFormatter(pool string, describe CallDescriber) *Formatter {
	return &Formatter{pool: pool, describe: describe}
}

// Format returns the title and body for ev.
func (f *Formatter) Format(ev domain.Event) (string, string) {
	title := fmt.Sprintf("[%s] %s", f.pool, humanKind(ev.Kind))
	var b strings.Builder
	switch ev.Kind {
	case domain.EventTicketPurchased:
		fmt.Fprintf(&b, "Ticket #%d bought by %s for %s ETH", ev.TicketID, short(ev.Actor.Hex()), domain.FormatEther(ev.Amount))
	case domain.EventFixtureResultRecorded:
		fmt.Fprintf(&b, "Fixture %d finished: %s", ev.Fixture, ev.Result)
	case domain.EventScoringCompleted:
		fmt.Fprintf(&b, "Points calculated, %d winning ticket(s)", ev.WinnerCount)
	case domain.EventPrizeClaimed:
		fmt.Fprintf(&b, "Ticket #%d claimed %s ETH to %s", ev.TicketID, domain.FormatEther(ev.Amount), short(ev.Actor.Hex()))
	case domain.EventRequestSubmitted:
		fmt.Fprintf(&b, "Request #%d submitted by %s: %s", ev.RequestID, short(ev.Actor.Hex()), f.call(ev.Payload))
	case domain.EventRequestApproved:
		fmt.Fprintf(&b, "Request #%d approved by %s", ev.RequestID, short(ev.Actor.Hex()))
	case domain.EventRequestExecuted:
		fmt.Fprintf(&b, "Request #%d executed by %s", ev.RequestID, short(ev.Actor.Hex()))
	default:
		fmt.Fprintf(&b, "seq %d", ev.Seq)
	}
	return title, b.String()
}

func (f *Formatter) call(payload []byte) string {
	if f.describe == nil {
		return fmt.Sprintf("%d byte call", len(payload))
	}
	method, args := f.describe(payload)
	if fixture, ok := args["fixture"]; ok {
		return fmt.Sprintf("%s(fixture %v, %v)", method, fixture, args["result"])
	}
	return method
}

func humanKind(k domain.EventKind) string {
	s := strings.ReplaceAll(string(k), "_", " ")
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// short abbreviates a hex address as 0x1234…abcd.
func short(addr string) string {
	if len(addr) < 12 {
		return addr
	}
	return addr[:6] + "…" + addr[len(addr)-4:]
}
