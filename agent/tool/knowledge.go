package tool

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

type faqEntry struct {
	Topic    string
	Keywords []string
	Answer   string
}

var faqEntries = []faqEntry{
	{
		Topic:    "baggage",
		Keywords: []string{"bag", "baggage", "luggage", "carry-on", "carry on", "suitcase"},
		Answer: "You are allowed one carry-on bag and one personal item. Carry-on must be under 22 x 14 x 9 inches. " +
			"Checked bags: first bag free, second bag $35. Overweight bags over 50 lbs incur a $75 fee. " +
			"If a bag is delayed or missing, file a claim at the airport or with customer service.",
	},
	{
		Topic:    "wifi",
		Keywords: []string{"wifi", "wi-fi", "internet", "connect"},
		Answer: "Complimentary WiFi is available on all flights on the PacificAir-WiFi network. " +
			"Streaming quality is available on flights over 2 hours.",
	},
	{
		Topic:    "seats",
		Keywords: []string{"seat", "seats", "plane", "aircraft", "exit row", "legroom"},
		Answer: "Our aircraft have 120 seats. Business class is rows 1-4, Economy Plus rows 5-8 with extra legroom, " +
			"Economy rows 9-25. Exit rows are 4 and 16. Seat selection is free for Business and $15 for preferred Economy seats.",
	},
	{
		Topic:    "compensation",
		Keywords: []string{"compensation", "voucher", "delay", "delayed", "hotel"},
		Answer: "For delays over 2 hours we provide meal vouchers. For delays over 4 hours or overnight we provide hotel " +
			"accommodation and ground transportation. A missed connection is rebooked at no charge and a compensation case is opened.",
	},
	{
		Topic:    "refunds",
		Keywords: []string{"refund", "money back", "reimburse"},
		Answer: "Full refunds are available within 24 hours of booking. Non-refundable tickets receive travel credit minus " +
			"a $75 change fee. Refunds are processed within 7-10 business days.",
	},
	{
		Topic:    "pets",
		Keywords: []string{"pet", "pets", "dog", "cat", "animal"},
		Answer: "Small dogs and cats may travel in cabin in an approved carrier that fits under the seat. " +
			"The pet fee is $95 each way. Service animals fly free with documentation.",
	},
}

type faqInput struct {
	Question string `json:"question"`
}

type faqOutput struct {
	Topic   string `json:"topic"`
	Answer  string `json:"answer"`
	Matched bool   `json:"matched"`
}

func faqLookupTool() Definition {
	topics := make([]string, 0, len(faqEntries)+1)
	for _, e := range faqEntries {
		topics = append(topics, e.Topic)
	}
	topics = append(topics, "unknown")
	return Definition{
		Contract: Contract{
			Name:        ToolFAQLookup,
			Capability:  "policy lookup",
			Description: "Answer a general airline policy question from the knowledge base.",
			Request: objectSchema([]string{"question"}, map[string]*openapi3.Schema{
				"question": stringSchema("The customer's question"),
			}),
			Response: objectSchema([]string{"topic", "answer", "matched"}, map[string]*openapi3.Schema{
				"topic":   enumSchema("Matched topic", topics...),
				"answer":  stringSchema("Grounded answer"),
				"matched": openapi3.NewBoolSchema(),
			}),
		},
		Handler: typed(faqLookup),
	}
}

// faqLookup picks the topic with the most keyword hits; ties go to the
// earlier topic.
func faqLookup(_ context.Context, _ *Env, in faqInput) (faqOutput, error) {
	q := strings.ToLower(in.Question)
	best, bestHits := -1, 0
	for i, e := range faqEntries {
		hits := 0
		for _, kw := range e.Keywords {
			if strings.Contains(q, kw) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = i, hits
		}
	}
	if best < 0 {
		return faqOutput{
			Topic:  "unknown",
			Answer: "I don't know the answer to that question.",
		}, nil
	}
	return faqOutput{Topic: faqEntries[best].Topic, Answer: faqEntries[best].Answer, Matched: true}, nil
}

var baggagePolicies = map[string]map[string]string{
	"allowance": {
		"carry_on":        "One carry-on bag (22x14x9 inches) plus one personal item",
		"checked_premium": "First checked bag free for premium members",
		"checked_economy": "$35 for the first checked bag, $45 for the second",
		"weight_limit":    "50 lbs per checked bag",
	},
	"fees": {
		"overweight":       "$75 for bags over 50 lbs",
		"oversized":        "$100 for bags over 62 linear inches",
		"extra_bag":        "$45 for the third and later bags",
		"sports_equipment": "$35 per item",
	},
	"lost": {
		"claim_window":     "File within 24 hours of arrival",
		"delivery_promise": "Delivery within 5 business days",
		"interim_expenses": "Up to $50 per day for essential items while the bag is located",
	},
}

type baggageInput struct {
	Question string `json:"question"`
}

type baggageOutput struct {
	Category    string   `json:"category"`
	PolicyFacts []string `json:"policy_facts"`
	ClaimNumber string   `json:"claim_number,omitempty"`
}

func baggagePolicyTool() Definition {
	return Definition{
		Contract: Contract{
			Name:        ToolBaggagePolicy,
			Capability:  "baggage policy lookup",
			Description: "Baggage allowance, fees and lost bag claims.",
			Request: objectSchema([]string{"question"}, map[string]*openapi3.Schema{
				"question": stringSchema("The customer's baggage question"),
			}),
			Response: objectSchema([]string{"category", "policy_facts"}, map[string]*openapi3.Schema{
				"category":     enumSchema("Inquiry category", "allowance", "fees", "lost", "policy"),
				"policy_facts": arrayOf(openapi3.NewStringSchema()).WithMinItems(1),
				"claim_number": described(openapi3.NewStringSchema().WithPattern(`^BG-[0-9]{6}$`), "Lost bag claim"),
			}),
		},
		Handler: typed(baggagePolicy),
	}
}

func baggageCategory(question string) string {
	q := strings.ToLower(question)
	switch {
	case containsAny(q, "lost", "missing", "can't find", "didn't arrive"):
		return "lost"
	case containsAny(q, "fee", "cost", "charge", "price", "how much"):
		return "fees"
	case containsAny(q, "allowance", "include", "how many", "limit", "weight"):
		return "allowance"
	default:
		return "policy"
	}
}

func baggagePolicy(_ context.Context, env *Env, in baggageInput) (baggageOutput, error) {
	category := baggageCategory(in.Question)
	out := baggageOutput{Category: category}
	switch category {
	case "policy":
		allowance := baggagePolicies["allowance"]
		out.PolicyFacts = []string{
			"Carry-on allowance: " + allowance["carry_on"],
			"First checked bag (economy): " + allowance["checked_economy"],
			"Weight limit: " + allowance["weight_limit"],
			"For lost bags, describe what happened and a claim will be filed",
		}
	default:
		facts := baggagePolicies[category]
		keys := make([]string, 0, len(facts))
		for k := range facts {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			out.PolicyFacts = append(out.PolicyFacts, fmt.Sprintf("%s: %s", strings.ReplaceAll(k, "_", " "), facts[k]))
		}
	}
	if category == "lost" {
		out.ClaimNumber = "BG-" + digitsFrom(env.NewID(), 6)
		out.PolicyFacts = append(out.PolicyFacts, "Claim number: "+out.ClaimNumber)
	}
	return out, nil
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

// digitsFrom derives n decimal digits from an opaque id.
func digitsFrom(id string, n int) string {
	var b strings.Builder
	for _, r := range id {
		if b.Len() == n {
			break
		}
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'a' && r <= 'f':
			b.WriteByte(byte('0' + (r-'a'+10)%10))
		case r >= 'A' && r <= 'F':
			b.WriteByte(byte('0' + (r-'A'+10)%10))
		}
	}
	for b.Len() < n {
		b.WriteByte('0')
	}
	return b.String()
}
