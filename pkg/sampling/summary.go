package sampling

import (
	"github.com/nicktill/marketpulse/pkg/sink"
	"github.com/nicktill/marketpulse/pkg/storage"
)

// DepthBands are the distances from mid, in percent, of the depth distribution.
var DepthBands = []float64{0.1, 0.25, 0.5, 1, 2}

// Summarize computes the flush metrics over accumulated levels. Depth bands
// are only reported when both sides are present.
func Summarize(bids, asks []storage.Level, ticks int) sink.Metrics {
	m := sink.Metrics{
		BidLevels: len(bids),
		AskLevels: len(asks),
		Ticks:     ticks,
	}

	for i, b := range bids {
		m.BidVolume += b.Qty
		if i == 0 || b.Price > m.BestBid {
			m.BestBid = b.Price
		}
	}
	for i, a := range asks {
		m.AskVolume += a.Qty
		if i == 0 || a.Price < m.BestAsk {
			m.BestAsk = a.Price
		}
	}
	m.Imbalance = imbalance(m.BidVolume, m.AskVolume)

	if len(bids) == 0 || len(asks) == 0 {
		return m
	}
	m.Mid = (m.BestBid + m.BestAsk) / 2
	m.Spread = m.BestAsk - m.BestBid

	m.Depth = make([]sink.Band, 0, len(DepthBands))
	for _, pct := range DepthBands {
		lo := m.Mid * (1 - pct/100)
		hi := m.Mid * (1 + pct/100)

		band := sink.Band{Pct: pct}
		for _, b := range bids {
			if b.Price >= lo {
				band.BidVolume += b.Qty
			}
		}
		for _, a := range asks {
			if a.Price <= hi {
				band.AskVolume += a.Qty
			}
		}
		band.Imbalance = imbalance(band.BidVolume, band.AskVolume)
		m.Depth = append(m.Depth, band)
	}
	return m
}

func imbalance(bid, ask float64) float64 {
	total := bid + ask
	if total == 0 {
		return 0
	}
	return (bid - ask) / total
}
