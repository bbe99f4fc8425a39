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


package api

import (
	"strconv"

	probeerrors "github.com/tombee/usageprobe/pkg/errors"
)

// Codes for failures detected before the engine runs.
const (
	CodeInvalidRequest = "api.invalid_request"
	CodeBodyTooLarge   = "api.body_too_large"
	CodeRateLimited    = "api.rate_limited"
	CodeUnavailable    = "api.engine_unavailable"
)

func init() {
	probeerrors.Register(CodeInvalidRequest, probeerrors.Messages{
		EN: "Invalid request: %s",
		ZH: "请求无效: %s",
	})
	probeerrors.Register(CodeBodyTooLarge, probeerrors.Messages{
		EN: "Request body too large (max %s bytes)",
		ZH: "请求体过大（上限 %s 字节）",
	})
	probeerrors.Register(CodeRateLimited, probeerrors.Messages{
		EN: "Too many requests, please retry later",
		ZH: "请求过于频繁，请稍后重试",
	})
	probeerrors.Register(CodeUnavailable, probeerrors.Messages{
		EN: "Script engine is not available",
		ZH: "脚本引擎不可用",
	})
}

func errInvalidRequest(reason string) *probeerrors.Error {
	return probeerrors.New(probeerrors.CategoryValidation, CodeInvalidRequest, reason)
}

func errBodyTooLarge(limit int64) *probeerrors.Error {
	return probeerrors.New(probeerrors.CategoryValidation, CodeBodyTooLarge, strconv.FormatInt(limit, 10))
}

func errRateLimited() *probeerrors.Error {
	return probeerrors.New(probeerrors.CategoryValidation, CodeRateLimited)
}

func errUnavailable() *probeerrors.Error {
	return probeerrors.New(probeerrors.CategorySetup, CodeUnavailable)
}
