package privacy

import "regexp"

// GetDefaultRules returns the detection rule table in scan order.
//
// Scan order decides the order entities are reported (and, under keep_all,
// substituted). Priority is only consulted by overlap strategies that drop
// matches.
func GetDefaultRules() []DetectionRule {
	return []DetectionRule{
		{
			Category: CategoryEmail,
			Pattern:  regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`),
			Priority: 50,
		},
		{
			Category: CategoryPhone,
			Pattern:  regexp.MustCompile(`\b[0-9]{10}\b`),
			Priority: 40,
		},
		{
			Category: CategoryPerson,
			Pattern:  regexp.MustCompile(`\b[A-Z][a-z]+\s[A-Z][a-z]+\b`),
			Priority: 20,
		},
		{
			Category: CategoryOrg,
			Pattern:  regexp.MustCompile(`\b[A-Z][A-Za-z]+\s(?:Ltd|Pvt|Corporation|Corp|Technologies|Systems|Solutions|Tech|Company)\b`),
			Priority: 30,
		},
		{
			Category: CategoryGPE,
			Pattern:  regexp.MustCompile(`\b[A-Z][a-z]{3,}\b`),
			Priority: 10,
		},
	}
}

// Categories returns every category in scan order.
func Categories() []Category {
	rules := GetDefaultRules()
	out := make([]Category, len(rules))
	for i, r := range rules {
		out[i] = r.Category
	}
	return out
}
