package comments

import (
	"regexp"
	"strings"
)

var (
	reInvisible   = regexp.MustCompile("[\u200B\u200C\u200D\uFEFF]")
	reControl     = regexp.MustCompile("[\u0000-\u0008\u000B\u000C\u000E-\u001F\u007F-\u009F]")
	reSoftHyphen  = regexp.MustCompile("\u00AD")
	reBidi        = regexp.MustCompile("[\u202A-\u202E\u2066-\u2069]")
	reHTMLComment = regexp.MustCompile(`<!--[\s\S]*?-->`)

	reGitHubPATClassic   = regexp.MustCompile(`\bghp_[A-Za-z0-9]{36}\b`)
	reGitHubOAuth        = regexp.MustCompile(`\bgho_[A-Za-z0-9]{36}\b`)
	reGitHubInstallation = regexp.MustCompile(`\bghs_[A-Za-z0-9]{36}\b`)
	reGitHubRefresh      = regexp.MustCompile(`\bghr_[A-Za-z0-9]{36}\b`)
	reGitHubFineGrained  = regexp.MustCompile(`\bgithub_pat_[A-Za-z0-9_]{11,221}\b`)
)

const redacted = "[REDACTED_GITHUB_TOKEN]"

// StripInvisibleCharacters removes zero-width, control and bidi override
// characters. Newlines and tabs are kept.
func StripInvisibleCharacters(s string) string {
	s = reInvisible.ReplaceAllString(s, "")
	s = reControl.ReplaceAllString(s, "")
	s = reSoftHyphen.ReplaceAllString(s, "")
	s = reBidi.ReplaceAllString(s, "")
	return s
}

// StripHTMLComments removes HTML comments, which also keeps user text from
// carrying a metadata block of its own.
func StripHTMLComments(s string) string {
	s = reHTMLComment.ReplaceAllString(s, "")
	// An unterminated opener would still swallow the rest of the rendered body.
	return strings.ReplaceAll(s, "<!--", "&lt;!--")
}

// RedactGitHubTokens censors GitHub token-like strings.
func RedactGitHubTokens(s string) string {
	s = reGitHubPATClassic.ReplaceAllString(s, redacted)
	s = reGitHubOAuth.ReplaceAllString(s, redacted)
	s = reGitHubInstallation.ReplaceAllString(s, redacted)
	s = reGitHubRefresh.ReplaceAllString(s, redacted)
	s = reGitHubFineGrained.ReplaceAllString(s, redacted)
	return s
}

// Sanitize cleans comment text before it is posted.
func Sanitize(s string) string {
	if s == "" {
		return s
	}
	s = StripHTMLComments(s)
	s = StripInvisibleCharacters(s)
	s = RedactGitHubTokens(s)
	return strings.TrimSpace(s)
}
