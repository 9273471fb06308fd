// Package extract turns free-form model reports into structured document data.
package extract

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// UnknownCompany pads the company list when fewer names than tickers are found.
const UnknownCompany = "未知公司"

var (
	tickerRe       = regexp.MustCompile(`\b\d{6}\b`)
	numberPrefixRe = regexp.MustCompile(`^\d+\.\s*`)
)

var (
	tickerStart  = []string{"个股股票代码", "股票代码", "A股代码"}
	tickerEnd    = []string{"公司名称", "模块分析", "总体概述", "模块划分"}
	companyStart = []string{"公司名称", "对应的公司名称"}
	companyEnd   = []string{"模块分析", "总体概述", "模块划分", "个股股票代码"}
	moduleStart  = []string{"模块划分", "内容模块", "识别出的模块"}
	moduleEnd    = []string{"模块分析", "总体概述", "个股股票代码", "公司名称"}
)

// ImpliedModules are recognized when a report has no explicit module section.
var ImpliedModules = []string{
	"行业分析", "个股分析", "市场趋势", "财务分析",
	"投资建议", "风险评估", "宏观经济", "政策分析",
	"市场情绪", "技术分析", "估值分析", "业绩预测",
}

// DefaultModules is used when no module can be recognized at all.
var DefaultModules = []string{"总体市场分析", "个股分析", "投资建议"}

// section returns the text between the first start marker found and the
// nearest end marker following it. ok is false when no start marker exists.
func section(text string, start, end []string) (string, bool) {
	from := -1
	for _, marker := range start {
		if idx := strings.Index(text, marker); idx != -1 {
			from = idx
			break
		}
	}
	if from == -1 {
		return "", false
	}
	to := len(text)
	for _, marker := range end {
		// Search after the start marker itself so that overlapping markers
		// such as 公司名称 inside 对应的公司名称 do not end the section at once.
		if idx := strings.Index(text[from+1:], marker); idx != -1 && from+1+idx < to {
			to = from + 1 + idx
		}
	}
	return strings.TrimSpace(text[from:to]), true
}

// Tickers extracts 6-digit A-share codes, de-duplicated in first-seen order.
// The explicit code section is preferred when the report has one.
func Tickers(text string) []string {
	scope, ok := section(text, tickerStart, tickerEnd)
	if !ok {
		scope = text
	}
	return Dedup(tickerRe.FindAllString(scope, -1))
}

// Companies extracts company names from the company section of a report.
func Companies(text string) []string {
	scope, ok := section(text, companyStart, companyEnd)
	if !ok {
		return []string{}
	}
	var out []string
	for _, line := range strings.Split(scope, "\n") {
		line = stripMarker(strings.TrimSpace(line), companyStart)
		if line == "" || isDigits(line) || utf8.RuneCountInString(line) <= 3 {
			continue
		}
		cleaned := numberPrefixRe.ReplaceAllString(line, "")
		cleaned = strings.TrimSpace(tickerRe.ReplaceAllString(cleaned, ""))
		out = append(out, cleaned)
	}
	return Dedup(out)
}

// Modules extracts the content modules listed by a report, falling back to
// implied modules when the report has no module section.
func Modules(text string) []string {
	scope, ok := section(text, moduleStart, moduleEnd)
	if !ok {
		return Implied(text)
	}
	var out []string
	for _, line := range strings.Split(scope, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") || containsAny(line, moduleStart) {
			continue
		}
		cleaned := numberPrefixRe.ReplaceAllString(line, "")
		if utf8.RuneCountInString(cleaned) > 2 {
			out = append(out, cleaned)
		}
	}
	return Dedup(out)
}

// Implied scans a report for well-known module names.
func Implied(text string) []string {
	var found []string
	for _, m := range ImpliedModules {
		if strings.Contains(text, m) {
			found = append(found, m)
		}
	}
	if len(found) == 0 {
		return append([]string(nil), DefaultModules...)
	}
	return found
}

// Reconcile makes companies index-aligned with tickers by truncating or
// padding with UnknownCompany.
func Reconcile(tickers, companies []string) []string {
	out := make([]string, 0, len(tickers))
	for i := range tickers {
		if i < len(companies) {
			out = append(out, companies[i])
		} else {
			out = append(out, UnknownCompany)
		}
	}
	return out
}

// Dedup removes duplicates while keeping first-seen order.
func Dedup(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	return out
}

// stripMarker drops a leading section heading such as "公司名称：" so that
// names written on the heading line itself survive.
func stripMarker(line string, markers []string) string {
	for i := len(markers) - 1; i >= 0; i-- {
		if idx := strings.Index(line, markers[i]); idx != -1 {
			line = line[idx+len(markers[i]):]
			return strings.TrimSpace(strings.TrimLeft(line, "：:*# "))
		}
	}
	return line
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
