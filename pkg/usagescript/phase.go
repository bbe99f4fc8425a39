// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package usagescript

import (
	"log/slog"

	"github.com/robbyt/go-fsm/v2"
	"github.com/robbyt/go-fsm/v2/transitions"
)

// Invocation phases.
const (
	phaseIdle            = "idle"
	phaseExtractRequest  = "extract_request"
	phaseValidateRequest = "validate_request"
	phaseValidateURL     = "validate_url"
	phaseSendRequest     = "send_request"
	phaseExtractResult   = "extract_result"
	phaseValidateResult  = "validate_result"
	phaseSucceeded       = "succeeded"
	phaseFailed          = "failed"
)

// phaseTransitions lists the legal successors of each phase. Every working
// phase may fail; only validate_result may succeed.
var phaseTransitions = transitions.MustNew(map[string][]string{
	phaseIdle:            {phaseExtractRequest},
	phaseExtractRequest:  {phaseValidateRequest, phaseFailed},
	phaseValidateRequest: {phaseValidateURL, phaseFailed},
	phaseValidateURL:     {phaseSendRequest, phaseFailed},
	phaseSendRequest:     {phaseExtractResult, phaseFailed},
	phaseExtractResult:   {phaseValidateResult, phaseFailed},
	phaseValidateResult:  {phaseSucceeded, phaseFailed},
	phaseSucceeded:       {},
	phaseFailed:          {},
})

// invocation tracks the phase of one Execute call.
type invocation struct {
	*fsm.Machine
}

func newInvocation(handler slog.Handler) (*invocation, error) {
	machine, err := fsm.New(phaseIdle, phaseTransitions, fsm.WithLogHandler(handler.WithGroup("fsm")))
	if err != nil {
		return nil, err
	}
	return &invocation{Machine: machine}, nil
}

func terminal(p string) bool {
	return p == phaseSucceeded || p == phaseFailed
}
