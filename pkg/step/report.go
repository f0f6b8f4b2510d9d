package step

import (
	"context"
	"encoding/xml"
	"fmt"
	"strings"

	"github.com/cuemby/tmt/pkg/types"
)

// ReportEngine renders sc.Results through whichever reporter "how"
// plugins the plan's report phases name. Two are built in: "display"
// (the default) logs a one-line summary per result, and "junit" writes
// a JUnit XML file other CI tooling can consume. Report phases don't
// touch a guest, so they run directly rather than through
// runPhaseQueue's scheduler.
type ReportEngine struct{}

func (e *ReportEngine) Kind() types.StepKind { return types.StepReport }

func (e *ReportEngine) Run(ctx context.Context, sc *Context) error {
	done, err := skipIfDone(sc, types.StepReport)
	if err != nil {
		return err
	}
	if done {
		return nil
	}

	if err := markRunning(sc, types.StepReport); err != nil {
		return err
	}

	phases := sc.Plan.Phases[types.StepReport]
	if len(phases) == 0 {
		phases = []types.PhaseSpec{{Name: "report", How: "display"}}
	}

	for _, phase := range phases {
		var reportErr error
		switch phase.How {
		case "", "display":
			reportDisplay(sc)
		case "junit":
			reportErr = reportJUnit(sc, phase)
		default:
			reportErr = fmt.Errorf("report: unsupported how %q", phase.How)
		}
		if reportErr != nil {
			_ = markFailed(sc, types.StepReport, reportErr)
			return reportErr
		}
	}

	return markDone(sc, types.StepReport)
}

func reportDisplay(sc *Context) {
	for _, r := range sc.Results {
		sc.Logger.Info().
			Str("test", r.Name).
			Str("guest", r.Guest.Name).
			Str("outcome", string(r.Result)).
			Dur("duration", r.Duration).
			Msg("result")
	}
}

type junitTestsuite struct {
	XMLName   xml.Name        `xml:"testsuite"`
	Name      string          `xml:"name,attr"`
	Tests     int             `xml:"tests,attr"`
	Failures  int             `xml:"failures,attr"`
	Errors    int             `xml:"errors,attr"`
	Testcases []junitTestcase `xml:"testcase"`
}

type junitTestcase struct {
	Name      string        `xml:"name,attr"`
	Classname string        `xml:"classname,attr"`
	Time      float64       `xml:"time,attr"`
	Failure   *junitMessage `xml:"failure,omitempty"`
	Error     *junitMessage `xml:"error,omitempty"`
}

type junitMessage struct {
	Message string `xml:"message,attr"`
	Text    string `xml:",chardata"`
}

// reportJUnit writes results.xml under the report step's directory.
// encoding/xml is the standard library's JUnit serializer; no
// third-party XML library appears anywhere in the example pack, so
// this is the one deliberate stdlib-only exception in pkg/step (noted
// in DESIGN.md).
func reportJUnit(sc *Context, phase types.PhaseSpec) error {
	suite := junitTestsuite{Name: sc.Plan.Name}
	for _, r := range sc.Results {
		tc := junitTestcase{
			Name:      r.Name,
			Classname: r.Guest.Name,
			Time:      r.Duration.Seconds(),
		}
		suite.Tests++
		switch r.Result {
		case types.OutcomeFail:
			suite.Failures++
			tc.Failure = &junitMessage{Message: "test failed", Text: joinLog(r.Log)}
		case types.OutcomeError:
			suite.Errors++
			tc.Error = &junitMessage{Message: "test errored", Text: joinLog(r.Log)}
		}
		suite.Testcases = append(suite.Testcases, tc)
	}

	data, err := xml.MarshalIndent(suite, "", "  ")
	if err != nil {
		return fmt.Errorf("report: junit: marshal: %w", err)
	}
	data = append([]byte(xml.Header), data...)

	name := phase.Options["filename"]
	if filename, ok := name.(string); ok && filename != "" {
		return writeFile(sc.Run.StepDir(sc.Plan.Name, "report"), filename, data)
	}
	return writeFile(sc.Run.StepDir(sc.Plan.Name, "report"), "results.xml", data)
}

func joinLog(lines []string) string {
	return strings.Join(lines, "\n")
}
