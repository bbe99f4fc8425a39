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

package sandbox

import "context"

// ExtractRequest evaluates src in a fresh runtime and returns the JSON text
// of the request property of the object the script evaluates to.
func ExtractRequest(ctx context.Context, src string, limits Limits) (string, error) {
	s, err := newSession(ctx, limits.normalized())
	if err != nil {
		return "", err
	}
	defer s.close()

	if err := s.evaluate(src, CodeConfigParseFailed); err != nil {
		return "", err
	}

	present, err := s.call(CodeConfigParseFailed, "pick", "request")
	if err != nil {
		return "", err
	}
	if ok, _ := present.(bool); !ok {
		return "", scriptError(CodeRequestMissing)
	}

	return s.serialize(CodeRequestSerializeFailed)
}

// RunExtractor evaluates src again in a fresh runtime, parses body as JSON
// and passes it to the script's extractor function with the config object
// as this. It returns the JSON text of the extractor's return value.
func RunExtractor(ctx context.Context, src, body string, limits Limits) (string, error) {
	s, err := newSession(ctx, limits.normalized())
	if err != nil {
		return "", err
	}
	defer s.close()

	if err := s.evaluate(src, CodeConfigReparseFailed); err != nil {
		return "", err
	}

	callable, err := s.call(CodeExtractorExecFailed, "callable", "extractor")
	if err != nil {
		return "", err
	}
	if ok, _ := callable.(bool); !ok {
		return "", scriptError(CodeExtractorMissing)
	}

	if _, err := s.call(CodeResponseParseFailed, "parseResponse", body); err != nil {
		return "", err
	}
	if _, err := s.call(CodeExtractorExecFailed, "extract"); err != nil {
		return "", err
	}

	return s.serialize(CodeResultSerializeFailed)
}
