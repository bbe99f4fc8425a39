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

import (
	probeerrors "github.com/tombee/usageprobe/pkg/errors"
)

// Error codes produced by interpreter sessions.
const (
	CodeRuntimeCreateFailed    = "usage_script.runtime_create_failed"
	CodeConfigParseFailed      = "usage_script.config_parse_failed"
	CodeConfigReparseFailed    = "usage_script.config_reparse_failed"
	CodeRequestMissing         = "usage_script.request_missing"
	CodeRequestSerializeFailed = "usage_script.request_serialize_failed"
	CodeSerializeNone          = "usage_script.serialize_none"
	CodeExtractorMissing       = "usage_script.extractor_missing"
	CodeResponseParseFailed    = "usage_script.response_parse_failed"
	CodeExtractorExecFailed    = "usage_script.extractor_exec_failed"
	CodeResultSerializeFailed  = "usage_script.result_serialize_failed"
	CodeScriptTimeout          = "usage_script.script_timeout"
	CodeScriptMemoryExceeded   = "usage_script.script_memory_exceeded"
)

func init() {
	probeerrors.Register(CodeRuntimeCreateFailed, probeerrors.Messages{
		EN: "Failed to create script runtime: %s",
		ZH: "创建脚本运行时失败: %s",
	})
	probeerrors.Register(CodeConfigParseFailed, probeerrors.Messages{
		EN: "Failed to evaluate script: %s",
		ZH: "脚本执行失败: %s",
	})
	probeerrors.Register(CodeConfigReparseFailed, probeerrors.Messages{
		EN: "Failed to re-evaluate script for extraction: %s",
		ZH: "提取阶段重新执行脚本失败: %s",
	})
	probeerrors.Register(CodeRequestMissing, probeerrors.Messages{
		EN: "Script config is missing the request property",
		ZH: "脚本配置缺少 request 属性",
	})
	probeerrors.Register(CodeRequestSerializeFailed, probeerrors.Messages{
		EN: "Failed to serialize request config: %s",
		ZH: "序列化请求配置失败: %s",
	})
	probeerrors.Register(CodeSerializeNone, probeerrors.Messages{
		EN: "Serialization produced no value",
		ZH: "序列化结果为空",
	})
	probeerrors.Register(CodeExtractorMissing, probeerrors.Messages{
		EN: "Script config is missing an extractor function",
		ZH: "脚本配置缺少 extractor 函数",
	})
	probeerrors.Register(CodeResponseParseFailed, probeerrors.Messages{
		EN: "Response is not valid JSON: %s",
		ZH: "响应不是有效的 JSON: %s",
	})
	probeerrors.Register(CodeExtractorExecFailed, probeerrors.Messages{
		EN: "Extractor failed: %s",
		ZH: "extractor 执行失败: %s",
	})
	probeerrors.Register(CodeResultSerializeFailed, probeerrors.Messages{
		EN: "Failed to serialize extractor result: %s",
		ZH: "序列化 extractor 结果失败: %s",
	})
	probeerrors.Register(CodeScriptTimeout, probeerrors.Messages{
		EN: "Script exceeded its time limit of %s",
		ZH: "脚本执行超时（限制 %s）",
	})
	probeerrors.Register(CodeScriptMemoryExceeded, probeerrors.Messages{
		EN: "Script exceeded its memory limit of %s",
		ZH: "脚本内存超出限制（限制 %s）",
	})

	probeerrors.RegisterSuggestion(CodeRequestMissing,
		"The script must evaluate to an object like ({ request: {...}, extractor: function (response) {...} })")
	probeerrors.RegisterSuggestion(CodeExtractorMissing,
		"Add an extractor function that maps the parsed response to usage fields")
}

func scriptError(code string, args ...any) *probeerrors.Error {
	return probeerrors.New(probeerrors.CategoryScript, code, args...)
}
