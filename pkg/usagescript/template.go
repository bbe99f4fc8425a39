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

import "strings"

// Variables are the values substituted into a script before evaluation.
// APIKey and BaseURL are always substituted, even when empty. AccessToken
// and UserID are optional; an empty value leaves its placeholder in place.
type Variables struct {
	APIKey      string
	BaseURL     string
	AccessToken string
	UserID      string
}

// Placeholders recognized by Substitute.
const (
	PlaceholderAPIKey      = "{{apiKey}}"
	PlaceholderBaseURL     = "{{baseUrl}}"
	PlaceholderAccessToken = "{{accessToken}}"
	PlaceholderUserID      = "{{userId}}"
)

// Substitute replaces placeholders in script with their values. Values are
// inserted literally: nothing is escaped and substituted text is never
// scanned for further placeholders.
func Substitute(script string, vars Variables) string {
	pairs := []string{
		PlaceholderAPIKey, vars.APIKey,
		PlaceholderBaseURL, vars.BaseURL,
	}
	if vars.AccessToken != "" {
		pairs = append(pairs, PlaceholderAccessToken, vars.AccessToken)
	}
	if vars.UserID != "" {
		pairs = append(pairs, PlaceholderUserID, vars.UserID)
	}
	return strings.NewReplacer(pairs...).Replace(script)
}

// secrets lists the values that must never appear in logs.
func (v Variables) secrets() []string {
	var out []string
	for _, s := range []string{v.APIKey, v.AccessToken} {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
