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

package errors

import (
	"fmt"
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const suggestionSuffix = ".suggestion"

var (
	supported = []language.Tag{language.English, language.SimplifiedChinese}
	matcher   = language.NewMatcher(supported)

	catalogMu sync.RWMutex
	builder   = catalog.NewBuilder(catalog.Fallback(language.English))
	keys      = make(map[string]struct{})
)

// Messages holds the translations for one code.
type Messages struct {
	EN string
	ZH string
}

// Register adds message templates for a code. Templates use fmt verbs and
// receive the Error's Args. Register is meant to be called from package
// init functions and panics on a malformed template.
func Register(code string, m Messages) {
	catalogMu.Lock()
	defer catalogMu.Unlock()

	if err := builder.SetString(language.English, code, m.EN); err != nil {
		panic(fmt.Sprintf("errors: registering %s: %v", code, err))
	}
	if m.ZH != "" {
		if err := builder.SetString(language.SimplifiedChinese, code, m.ZH); err != nil {
			panic(fmt.Sprintf("errors: registering %s: %v", code, err))
		}
	}
	keys[code] = struct{}{}
}

// RegisterSuggestion adds English guidance returned by Error.Suggestion.
func RegisterSuggestion(code, text string) {
	Register(code+suggestionSuffix, Messages{EN: text})
}

// Registered reports whether a code has message templates.
func Registered(code string) bool {
	return hasKey(code)
}

func hasKey(key string) bool {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	_, ok := keys[key]
	return ok
}

func printer(tag language.Tag) *message.Printer {
	catalogMu.RLock()
	defer catalogMu.RUnlock()
	return message.NewPrinter(MatchTag(tag), message.Catalog(builder))
}

// MatchTag maps an arbitrary language tag onto a supported one.
func MatchTag(tag language.Tag) language.Tag {
	_, idx, _ := matcher.Match(tag)
	return supported[idx]
}

// MatchLanguage negotiates an Accept-Language header value, or a bare
// language code such as "zh" or "en", against the supported languages.
// Unparseable input yields English.
func MatchLanguage(accept string) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := matcher.Match(tags...)
	return supported[idx]
}
