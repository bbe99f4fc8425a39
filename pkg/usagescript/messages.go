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
	probeerrors "github.com/tombee/usageprobe/pkg/errors"
)

// Error codes produced by request validation, the HTTP executor and the
// result validator.
const (
	CodeEngineConfigInvalid    = "usage_script.engine_config_invalid"
	CodeRequestFormatInvalid   = "usage_script.request_format_invalid"
	CodeInvalidHTTPMethod      = "usage_script.invalid_http_method"
	CodeRequestBodyTooLarge    = "usage_script.request_body_too_large"
	CodeHeaderCountExceeded    = "usage_script.header_count_exceeded"
	CodeForbiddenHeader        = "usage_script.forbidden_header"
	CodeInvalidHeader          = "usage_script.invalid_header"
	CodeClientCreateFailed     = "usage_script.client_create_failed"
	CodeRequestInvalidURL      = "usage_script.request_failed.invalid_url"
	CodeRequestRefused         = "usage_script.request_failed.connection_refused"
	CodeRequestDNS             = "usage_script.request_failed.dns"
	CodeRequestConnect         = "usage_script.request_failed.connect"
	CodeRequestTimeout         = "usage_script.request_failed.timeout"
	CodeRequestMalformed       = "usage_script.request_failed.malformed"
	CodeRequestFailed          = "usage_script.request_failed.generic"
	CodeTooManyRedirects       = "usage_script.too_many_redirects"
	CodeReadResponseFailed     = "usage_script.read_response_failed"
	CodeResponseTooLarge       = "usage_script.response_too_large"
	CodeHTTPError              = "usage_script.http_error"
	CodeResultParseFailed      = "usage_script.json_parse_failed"
	CodeEmptyArray             = "usage_script.empty_array"
	CodeArrayValidationFailed  = "usage_script.array_validation_failed"
	CodeMustReturnObject       = "usage_script.must_return_object"
	CodeFieldTypeError         = "usage_script.field_type_error"
	CodeInvocationStateInvalid = "usage_script.invocation_state_invalid"
)

// responseBodyOmitted replaces the error body preview unless the engine is
// configured to include it.
const responseBodyOmitted = "<response body omitted>"

func init() {
	probeerrors.Register(CodeEngineConfigInvalid, probeerrors.Messages{
		EN: "Invalid engine configuration: %s",
		ZH: "引擎配置无效: %s",
	})
	probeerrors.Register(CodeRequestFormatInvalid, probeerrors.Messages{
		EN: "Invalid request config format: %s",
		ZH: "请求配置格式错误: %s",
	})
	probeerrors.Register(CodeInvalidHTTPMethod, probeerrors.Messages{
		EN: "Invalid HTTP method: %s",
		ZH: "无效的 HTTP 方法: %s",
	})
	probeerrors.Register(CodeRequestBodyTooLarge, probeerrors.Messages{
		EN: "Request body too large: %s bytes (max %s bytes)",
		ZH: "请求体过大: %s 字节（上限 %s 字节）",
	})
	probeerrors.Register(CodeHeaderCountExceeded, probeerrors.Messages{
		EN: "Too many headers: %s (max %s)",
		ZH: "请求头过多: %s（上限 %s）",
	})
	probeerrors.Register(CodeForbiddenHeader, probeerrors.Messages{
		EN: "Header is not allowed: %s",
		ZH: "不允许设置请求头: %s",
	})
	probeerrors.Register(CodeInvalidHeader, probeerrors.Messages{
		EN: "Invalid header: %s",
		ZH: "无效的请求头: %s",
	})
	probeerrors.Register(CodeClientCreateFailed, probeerrors.Messages{
		EN: "Failed to create HTTP client: %s",
		ZH: "创建 HTTP 客户端失败: %s",
	})
	probeerrors.Register(CodeRequestInvalidURL, probeerrors.Messages{
		EN: "Request failed: invalid URL: %s",
		ZH: "请求失败: URL 无效: %s",
	})
	probeerrors.Register(CodeRequestRefused, probeerrors.Messages{
		EN: "Request failed: connection refused",
		ZH: "请求失败: 连接被拒绝",
	})
	probeerrors.Register(CodeRequestDNS, probeerrors.Messages{
		EN: "Request failed: DNS resolution failed: %s",
		ZH: "请求失败: DNS 解析失败: %s",
	})
	probeerrors.Register(CodeRequestConnect, probeerrors.Messages{
		EN: "Request failed: could not connect: %s",
		ZH: "请求失败: 无法建立连接: %s",
	})
	probeerrors.Register(CodeRequestTimeout, probeerrors.Messages{
		EN: "Request failed: timed out",
		ZH: "请求失败: 超时",
	})
	probeerrors.Register(CodeRequestMalformed, probeerrors.Messages{
		EN: "Request failed: malformed request: %s",
		ZH: "请求失败: 请求格式错误: %s",
	})
	probeerrors.Register(CodeRequestFailed, probeerrors.Messages{
		EN: "Request failed: %s",
		ZH: "请求失败: %s",
	})
	probeerrors.Register(CodeTooManyRedirects, probeerrors.Messages{
		EN: "Too many redirects (max %s)",
		ZH: "重定向次数过多（上限 %s）",
	})
	probeerrors.Register(CodeReadResponseFailed, probeerrors.Messages{
		EN: "Failed to read response: %s",
		ZH: "读取响应失败: %s",
	})
	probeerrors.Register(CodeResponseTooLarge, probeerrors.Messages{
		EN: "Response too large (max %s bytes)",
		ZH: "响应过大（上限 %s 字节）",
	})
	probeerrors.Register(CodeHTTPError, probeerrors.Messages{
		EN: "HTTP error %s: %s",
		ZH: "HTTP 错误 %s: %s",
	})
	probeerrors.Register(CodeResultParseFailed, probeerrors.Messages{
		EN: "Failed to parse extractor result: %s",
		ZH: "解析 extractor 结果失败: %s",
	})
	probeerrors.Register(CodeEmptyArray, probeerrors.Messages{
		EN: "Extractor returned an empty array",
		ZH: "extractor 返回了空数组",
	})
	probeerrors.Register(CodeArrayValidationFailed, probeerrors.Messages{
		EN: "Validation failed at index [%s]: %s",
		ZH: "第 [%s] 项验证失败: %s",
	})
	probeerrors.Register(CodeMustReturnObject, probeerrors.Messages{
		EN: "Extractor must return an object or an array of objects",
		ZH: "extractor 必须返回对象或对象数组",
	})
	probeerrors.Register(CodeFieldTypeError, probeerrors.Messages{
		EN: "%s must be %s or null",
		ZH: "%s 必须是 %s 或 null",
	})
	probeerrors.Register(CodeInvocationStateInvalid, probeerrors.Messages{
		EN: "Invalid invocation state: %s",
		ZH: "调用状态无效: %s",
	})

	probeerrors.RegisterSuggestion(CodeHTTPError,
		"Check the API key and base URL substituted into the script")
	probeerrors.RegisterSuggestion(CodeResponseTooLarge,
		"Query a narrower endpoint or raise max_response_bytes")
	probeerrors.RegisterSuggestion(CodeTooManyRedirects,
		"Point the script at the final URL instead of relying on redirects")
}
