package violation_test

import (
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/samijaber1/aegis-perf/internal/eval"
	"github.com/samijaber1/aegis-perf/internal/slo"
	"github.com/samijaber1/aegis-perf/internal/telemetry"
	"github.com/samijaber1/aegis-perf/internal/violation"
)

func testTable() *slo.Table {
	return slo.NewTable([]slo.Definition{
		{Operation: "checkin_query", P50Target: 150, P95Target: 400, P99Target: 800, ErrorRateTarget: 0.02, Key: true},
		{Operation: "venue_search", P50Target: 250, P95Target: 700, P99Target: 1500, ErrorRateTarget: 0.02, Key: true},
		{Operation: "profile_load", DisplayName: "Profile", P50Target: 100, P95Target: 300, P99Target: 600, ErrorRateTarget: 0.01},
	})
}

func TestNormalizeSeverity(t *testing.T) {
	Convey("Severity text is mapped onto the enum", t, func() {
		So(violation.NormalizeSeverity("low"), ShouldEqual, violation.SeverityLow)
		So(violation.NormalizeSeverity(" HIGH "), ShouldEqual, violation.SeverityHigh)
		So(violation.NormalizeSeverity("Critical"), ShouldEqual, violation.SeverityCritical)
		So(violation.NormalizeSeverity("medium"), ShouldEqual, violation.SeverityMedium)

		Convey("And unknown values fall back to medium", func() {
			So(violation.NormalizeSeverity(""), ShouldEqual, violation.SeverityMedium)
			So(violation.NormalizeSeverity("sev1"), ShouldEqual, violation.SeverityMedium)
		})
	})
}

func TestDerive(t *testing.T) {
	Convey("Given checkin_query breaching p50 and error rate", t, func() {
		table := testTable()
		ts := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
		latest := map[string]telemetry.MetricPoint{
			"checkin_query": {Operation: "checkin_query", P50: 180, P95: 390, P99: 750, ErrorRate: 0.05, Timestamp: ts},
			"venue_search":  {Operation: "venue_search", P50: 100, P95: 200, P99: 300, Timestamp: ts},
			"profile_load":  {Operation: "profile_load", P50: 9999, Timestamp: ts},
		}

		Convey("When deriving for the key operations", func() {
			points := violation.Derive(latest, table, table.KeyOperations())

			Convey("Then one point is emitted per breached dimension", func() {
				So(len(points), ShouldEqual, 2)
				So(points[0].Type, ShouldEqual, eval.DimensionP50)
				So(points[0].Severity, ShouldEqual, violation.SeverityMedium)
				So(points[1].Type, ShouldEqual, eval.DimensionErrorRate)
				So(points[1].Severity, ShouldEqual, violation.SeverityCritical)
			})

			Convey("And the points carry the metric timestamp and are marked derived", func() {
				for _, p := range points {
					So(p.Operation, ShouldEqual, "checkin_query")
					So(p.Timestamp, ShouldEqual, ts)
					So(p.Derived, ShouldBeTrue)
				}
			})
		})

		Convey("When a non-key operation breaches", func() {
			points := violation.Derive(latest, table, []string{"venue_search"})

			Convey("Then it is not considered", func() {
				So(points, ShouldBeEmpty)
			})
		})

		Convey("When p95 and p99 breach", func() {
			latest["venue_search"] = telemetry.MetricPoint{Operation: "venue_search", P95: 701, P99: 1501, Timestamp: ts}
			points := violation.Derive(latest, table, []string{"venue_search"})

			Convey("Then both are high severity", func() {
				So(len(points), ShouldEqual, 2)
				So(points[0].Severity, ShouldEqual, violation.SeverityHigh)
				So(points[1].Severity, ShouldEqual, violation.SeverityHigh)
			})
		})
	})
}

func TestFromRecords(t *testing.T) {
	Convey("Given persisted violation records", t, func() {
		table := testTable()
		ingested := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
		recs := []telemetry.RawRecord{
			{"operation": "checkins_query", "type": "p95", "severity": "HIGH", "timestamp": "2026-05-01T08:00:00Z"},
			{"operation": "profile_load", "type": "error_rate", "severity": "bogus"},
			{"type": "p50", "severity": "low"},
		}

		points := violation.FromRecords(recs, table, ingested)

		Convey("Then records without an operation are dropped", func() {
			So(len(points), ShouldEqual, 2)
		})

		Convey("And operation aliases are resolved", func() {
			So(points[0].Operation, ShouldEqual, "checkin_query")
			So(points[0].Type, ShouldEqual, eval.DimensionP95)
			So(points[0].Severity, ShouldEqual, violation.SeverityHigh)
			So(points[0].Timestamp.Equal(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)), ShouldBeTrue)
			So(points[0].Derived, ShouldBeFalse)
		})

		Convey("And missing timestamps fall back to ingestion time", func() {
			So(points[1].Timestamp, ShouldEqual, ingested)
			So(points[1].Type, ShouldEqual, eval.DimensionErrorRate)
			So(points[1].Severity, ShouldEqual, violation.SeverityMedium)
			So(points[1].DisplayName, ShouldEqual, "Profile")
		})
	})
}

func TestRankAndSelect(t *testing.T) {
	Convey("Given more violations than the cap", t, func() {
		base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
		var points []violation.Point
		for i := 0; i < 30; i++ {
			points = append(points, violation.Point{
				Operation: fmt.Sprintf("op_%02d", i),
				Timestamp: base.Add(time.Duration(i) * time.Minute),
			})
		}

		Convey("When ranking", func() {
			ranked := violation.Rank(points)

			Convey("Then the most recent 20 are kept newest first", func() {
				So(len(ranked), ShouldEqual, violation.MaxViolations)
				So(ranked[0].Operation, ShouldEqual, "op_29")
				So(ranked[19].Operation, ShouldEqual, "op_10")
				for i := 1; i < len(ranked); i++ {
					So(ranked[i-1].Timestamp.Before(ranked[i].Timestamp), ShouldBeFalse)
				}
			})

			Convey("And the input is left untouched", func() {
				So(points[0].Operation, ShouldEqual, "op_00")
			})
		})
	})

	Convey("Given persisted violations and breaching metrics", t, func() {
		table := testTable()
		ts := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
		latest := map[string]telemetry.MetricPoint{
			"checkin_query": {Operation: "checkin_query", P50: 500, Timestamp: ts},
		}
		persisted := []violation.Point{{Operation: "venue_search", Type: eval.DimensionP99, Severity: violation.SeverityLow, Timestamp: ts}}

		Convey("Then persisted records win when present", func() {
			got := violation.Select(persisted, latest, table, table.KeyOperations())
			So(len(got), ShouldEqual, 1)
			So(got[0].Operation, ShouldEqual, "venue_search")
		})

		Convey("Then live breaches are derived when nothing is persisted", func() {
			got := violation.Select(nil, latest, table, table.KeyOperations())
			So(len(got), ShouldEqual, 1)
			So(got[0].Operation, ShouldEqual, "checkin_query")
			So(got[0].Derived, ShouldBeTrue)
		})
	})
}

func TestSlowest(t *testing.T) {
	Convey("Given metrics for defined and undefined operations", t, func() {
		table := testTable()
		latest := map[string]telemetry.MetricPoint{
			"checkin_query": {Operation: "checkin_query", P95: 450},
			"venue_search":  {Operation: "venue_search", P95: 600},
			"profile_load":  {Operation: "profile_load", P95: 100},
			"mystery":       {Operation: "mystery", P95: 99999},
		}

		ranked := violation.Slowest(latest, table)

		Convey("Then only defined operations are ranked by descending p95", func() {
			So(len(ranked), ShouldEqual, 3)
			So(ranked[0].Operation, ShouldEqual, "venue_search")
			So(ranked[1].Operation, ShouldEqual, "checkin_query")
			So(ranked[2].Operation, ShouldEqual, "profile_load")
		})

		Convey("And the violating flag compares p95 against its target", func() {
			So(ranked[0].Violating, ShouldBeFalse)
			So(ranked[1].Violating, ShouldBeTrue)
			So(ranked[1].P95Target, ShouldEqual, 400)
		})
	})

	Convey("Given more than ten defined operations", t, func() {
		var defs []slo.Definition
		latest := map[string]telemetry.MetricPoint{}
		for i := 0; i < 15; i++ {
			op := fmt.Sprintf("op_%02d", i)
			defs = append(defs, slo.Definition{Operation: op, P95Target: 100})
			latest[op] = telemetry.MetricPoint{Operation: op, P95: float64(i)}
		}

		ranked := violation.Slowest(latest, slo.NewTable(defs))

		Convey("Then the ranking is capped at ten", func() {
			So(len(ranked), ShouldEqual, violation.MaxSlowest)
			So(ranked[0].Operation, ShouldEqual, "op_14")
		})
	})
}
