// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package verdict

import "fmt"

// Classify merges the stage outcomes into a verdict.
//
// Description:
//
//	Pure function over the stage statuses:
//
//	  apply        build    test     verdict
//	  NotFound     Skipped  Skipped  Inapplicable
//	  ApplyFailed  Skipped  Skipped  ToolFailure
//	  Applied      Failure  Skipped  Unsafe
//	  Applied      Success  Failure  Unsafe
//	  Applied      Success  Success  Safe
//
//	Confidence and diagnostics never participate.
//
// Outputs:
//
//	Verdict - The classification
//	error - Wraps ErrUnreachableOutcome for any other combination
func Classify(apply ApplyOutcome, build BuildOutcome, test TestOutcome) (Verdict, error) {
	a, b, t := apply.Status, build.Status, test.Status
	switch {
	case a == ApplyNotFound && b == BuildSkipped && t == TestSkipped:
		return Inapplicable, nil
	case a == ApplyFailedStatus && b == BuildSkipped && t == TestSkipped:
		return ToolFailure, nil
	case a == ApplyApplied && b == BuildFailure && t == TestSkipped:
		return Unsafe, nil
	case a == ApplyApplied && b == BuildSuccess && t == TestFailure:
		return Unsafe, nil
	case a == ApplyApplied && b == BuildSuccess && t == TestSuccess:
		return Safe, nil
	}
	return "", fmt.Errorf("%w: apply=%s build=%s test=%s", ErrUnreachableOutcome, a, b, t)
}
