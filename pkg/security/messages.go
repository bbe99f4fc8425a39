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

package security

import (
	probeerrors "github.com/tombee/usageprobe/pkg/errors"
)

// Error codes produced by URL validation and dialing.
const (
	CodeURLInvalid            = "usage_script.url_invalid"
	CodeURLSchemeNotAllowed   = "usage_script.url_scheme_not_allowed"
	CodeURLUserinfoNotAllowed = "usage_script.url_userinfo_not_allowed"
	CodeURLHostMissing        = "usage_script.url_host_missing"
	CodeURLHostNotAllowed     = "usage_script.url_host_not_allowed"
	CodeURLBlocked            = "usage_script.url_blocked"
	CodeDNSLookupFailed       = "usage_script.dns_lookup_failed"
)

func init() {
	probeerrors.Register(CodeURLInvalid, probeerrors.Messages{
		EN: "Invalid URL: %s",
		ZH: "无效的 URL: %s",
	})
	probeerrors.Register(CodeURLSchemeNotAllowed, probeerrors.Messages{
		EN: "Only http/https URLs are allowed; got %s",
		ZH: "仅允许 http/https URL，当前为 %s",
	})
	probeerrors.Register(CodeURLUserinfoNotAllowed, probeerrors.Messages{
		EN: "URL must not include username or password",
		ZH: "URL 不允许包含用户名或密码",
	})
	probeerrors.Register(CodeURLHostMissing, probeerrors.Messages{
		EN: "URL is missing a host",
		ZH: "URL 缺少主机名",
	})
	probeerrors.Register(CodeURLHostNotAllowed, probeerrors.Messages{
		EN: "Host is not in allowlist: %s",
		ZH: "主机不在允许列表中: %s",
	})
	probeerrors.Register(CodeURLBlocked, probeerrors.Messages{
		EN: "Target address is blocked by policy",
		ZH: "目标地址被安全策略阻止",
	})
	probeerrors.Register(CodeDNSLookupFailed, probeerrors.Messages{
		EN: "DNS lookup failed: %s",
		ZH: "DNS 解析失败: %s",
	})

	probeerrors.RegisterSuggestion(CodeURLHostNotAllowed,
		"Add the host to allowed_hosts or USAGE_SCRIPT_ALLOWED_HOSTS")
	probeerrors.RegisterSuggestion(CodeURLBlocked,
		"Private and loopback targets require egress_policy: trusted")
}

func newPolicyError(code string, args ...any) *probeerrors.Error {
	return probeerrors.New(probeerrors.CategoryNetworkPolicy, code, args...)
}

// dnsFailure reports a resolution error or an empty answer. The reason is
// kept in English in both languages; it comes from the resolver.
func dnsFailure(reason string, cause error) *probeerrors.Error {
	return probeerrors.New(probeerrors.CategoryTransport, CodeDNSLookupFailed, reason).WithCause(cause)
}
