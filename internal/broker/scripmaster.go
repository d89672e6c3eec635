package broker

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"optexec/internal/logger"
	"optexec/internal/types"
)

// ScripMasterResolver resolves contracts from an exchange scrip-master dump,
// the large JSON array brokers publish daily. The file is scanned once at
// load; lookups are map hits afterwards.
type ScripMasterResolver struct {
	byKey map[string]types.Instrument // UNDERLYING|STRIKE|CE/PE|EXPIRY
}

// LoadScripMaster parses the dump at path. Rows that are not option
// contracts for the known underlyings are skipped.
func LoadScripMaster(path string) (*ScripMasterResolver, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scrip master read: %w", err)
	}
	parsed := gjson.ParseBytes(raw)
	if !parsed.IsArray() {
		return nil, fmt.Errorf("scrip master: expected a JSON array")
	}
	r := &ScripMasterResolver{byKey: make(map[string]types.Instrument)}
	count := 0
	parsed.ForEach(func(_, row gjson.Result) bool {
		if row.Get("instrumenttype").String() != "OPTIDX" {
			return true
		}
		name := row.Get("name").String()
		if name != "NIFTY" && name != "BANKNIFTY" {
			return true
		}
		// Strikes in the dump are scaled by 100.
		strike := row.Get("strike").Float() / 100
		symbol := row.Get("symbol").String()
		if len(symbol) < 2 {
			return true
		}
		opt := symbol[len(symbol)-2:]
		if opt != "CE" && opt != "PE" {
			return true
		}
		expiry, err := normalizeExpiry(row.Get("expiry").String())
		if err != nil {
			return true
		}
		lot, _ := strconv.Atoi(row.Get("lotsize").String())
		inst := types.Instrument{
			Token:      row.Get("token").String(),
			Symbol:     symbol,
			Underlying: name,
			Expiry:     expiry,
			Strike:     strike,
			LotSize:    lot,
			TickSize:   row.Get("tick_size").Float() / 100,
		}
		r.byKey[instrumentKey(name, int(strike), opt, expiry)] = inst
		count++
		return true
	})
	logger.Infof("scrip master: indexed %d option contracts", count)
	return r, nil
}

func instrumentKey(underlying string, strike int, opt, expiry string) string {
	return fmt.Sprintf("%s|%d|%s|%s", underlying, strike, opt, expiry)
}

// normalizeExpiry converts the dump's 25JUL2024 form to 2006-01-02.
func normalizeExpiry(s string) (string, error) {
	if len(s) != 9 {
		return "", fmt.Errorf("bad expiry %q", s)
	}
	t, err := time.Parse("02Jan2006", s[:3]+strings.ToLower(s[3:5])+s[5:])
	if err != nil {
		return "", err
	}
	return t.Format("2006-01-02"), nil
}

// Resolve finds the contract at the nearest expiry on or after now. A miss
// is a hard error: trading an unresolvable strike is never acceptable.
func (r *ScripMasterResolver) Resolve(_ context.Context, underlying string, strike int, direction types.Direction, now time.Time) (types.Instrument, error) {
	if direction != types.DirectionCE && direction != types.DirectionPE {
		return types.Instrument{}, fmt.Errorf("resolve: no contract for direction %s", direction)
	}
	underlying = strings.ToUpper(underlying)
	var best types.Instrument
	found := false
	today := now.Format("2006-01-02")
	for _, inst := range r.byKey {
		if inst.Underlying != underlying || int(inst.Strike) != strike {
			continue
		}
		if !strings.HasSuffix(inst.Symbol, string(direction)) {
			continue
		}
		if inst.Expiry < today {
			continue
		}
		if !found || inst.Expiry < best.Expiry {
			best = inst
			found = true
		}
	}
	if !found {
		return types.Instrument{}, fmt.Errorf("resolve: no %s %d%s contract on or after %s", underlying, strike, direction, today)
	}
	return best, nil
}

func (r *ScripMasterResolver) DaysToExpiry(inst types.Instrument, now time.Time) int {
	exp, err := time.ParseInLocation("2006-01-02", inst.Expiry, now.Location())
	if err != nil {
		return 0
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	d := int(exp.Sub(midnight).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}
