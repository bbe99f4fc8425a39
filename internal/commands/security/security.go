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


// Package security implements commands that inspect the egress policy.
package security

import (
	"github.com/spf13/cobra"
)

// NewCommand creates the security command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "security",
		Short: "Inspect egress policy settings",
		Annotations: map[string]string{
			"group": "configuration",
		},
		Long: `Inspect the egress policy applied to usage script requests.

Commands:
  status     Show the effective policy, allowlist and limits
  check-url  Validate a URL the way a script request would be validated`,
	}

	cmd.AddCommand(newStatusCommand())
	cmd.AddCommand(NewCheckURLCommand())

	return cmd
}
