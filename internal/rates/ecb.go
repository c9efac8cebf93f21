package rates

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/mohamedkhairy/rate-notifier/pkg/logger"
)

// ecbTable is the result of parsing one ECB daily reference document
type ecbTable struct {
	rates         map[string]float64
	referenceDate string
	skipped       int
}

// parseECB reads the ECB eurofxref XML document.
// Every <Cube currency=".." rate=".."/> element contributes one entry; the
// enclosing <Cube time=".."> element supplies the reference date. Entries
// with a missing code or an unparsable, non-finite or non-positive rate are
// skipped. The base currency is not part of the document and is added by the
// caller.
func parseECB(r io.Reader) (*ecbTable, error) {
	table := &ecbTable{rates: make(map[string]float64)}
	decoder := xml.NewDecoder(r)

	for {
		token, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode rate document: %w", err)
		}

		start, ok := token.(xml.StartElement)
		if !ok || start.Name.Local != "Cube" {
			continue
		}

		var currency, rate string
		var hasRate bool
		for _, attr := range start.Attr {
			switch attr.Name.Local {
			case "currency":
				currency = strings.ToUpper(strings.TrimSpace(attr.Value))
			case "rate":
				rate = strings.TrimSpace(attr.Value)
				hasRate = true
			case "time":
				if table.referenceDate == "" {
					table.referenceDate = strings.TrimSpace(attr.Value)
				}
			}
		}

		if currency == "" && !hasRate {
			continue // container element
		}

		value, err := strconv.ParseFloat(rate, 64)
		if currency == "" || err != nil || math.IsNaN(value) || math.IsInf(value, 0) || value <= 0 {
			table.skipped++
			logger.Debug("Skipping malformed rate entry",
				logger.String("currency", currency),
				logger.String("rate", rate),
			)
			continue
		}

		table.rates[currency] = value
	}

	return table, nil
}
