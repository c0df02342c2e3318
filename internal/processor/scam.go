package processor

import "strings"

// scamPatterns are symbol substrings commonly used by airdropped phishing
// tokens (claim-site URLs embedded in the symbol, zero-width lookalikes
// collapsed to ASCII by the provider, ...). Heuristic only — paired with
// the provider-declared possibleSpam flag, never used alone to drop a
// transaction (spec §4.6 step 7: "annotate... do not drop").
var scamPatterns = []string{"http://", "https://", ".com", ".io", "claim", "airdrop", "visit "}

// looksLikeScamSymbol reports whether symbol matches a known phishing-token
// naming pattern.
func looksLikeScamSymbol(symbol string) bool {
	lower := strings.ToLower(symbol)
	for _, pattern := range scamPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
