package matcher

import (
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"

	"commission-reconciliation-service/internal/models"

	"github.com/shopspring/decimal"
)

// BankIndex provides candidate lookups over the bank feed of one run
type BankIndex struct {
	// All holds every indexed transaction ordered by bank_txn_id
	All []*models.BankTransaction

	// ByID maps bank_txn_id to its transaction
	ByID map[string]*models.BankTransaction

	// ByPolicy maps policy numbers recognized in memo/reference to transactions
	ByPolicy map[string][]*models.BankTransaction

	// AmountRange holds distinct amounts in ascending order for range lookups
	AmountRange []*AmountIndexEntry

	// ByDate maps posted dates (YYYY-MM-DD) to transactions
	ByDate map[string][]*models.BankTransaction

	tokens map[string]map[string]bool
}

// AmountIndexEntry represents an entry in the sorted amount index
type AmountIndexEntry struct {
	Amount       decimal.Decimal
	Transactions []*models.BankTransaction
}

// NewBankIndex builds the index; policyPattern recognizes policy numbers in memos
func NewBankIndex(txns []models.BankTransaction, policyPattern *regexp.Regexp) *BankIndex {
	index := &BankIndex{
		All:      make([]*models.BankTransaction, 0, len(txns)),
		ByID:     make(map[string]*models.BankTransaction, len(txns)),
		ByPolicy: make(map[string][]*models.BankTransaction),
		ByDate:   make(map[string][]*models.BankTransaction),
		tokens:   make(map[string]map[string]bool, len(txns)),
	}

	for i := range txns {
		txn := &txns[i]
		index.All = append(index.All, txn)
		index.ByID[txn.BankTxnID] = txn
	}
	sort.Slice(index.All, func(i, j int) bool {
		return index.All[i].BankTxnID < index.All[j].BankTxnID
	})

	amountMap := make(map[string]*AmountIndexEntry)
	for _, txn := range index.All {
		text := txn.SearchText()
		index.tokens[txn.BankTxnID] = tokenSet(text)

		seen := make(map[string]bool)
		for _, policy := range ExtractPolicyNumbers(text, policyPattern) {
			if !seen[policy] {
				seen[policy] = true
				index.ByPolicy[policy] = append(index.ByPolicy[policy], txn)
			}
		}

		dateKey := models.FormatDate(txn.PostedDate)
		index.ByDate[dateKey] = append(index.ByDate[dateKey], txn)

		key := txn.Amount.String()
		if entry, ok := amountMap[key]; ok {
			entry.Transactions = append(entry.Transactions, txn)
		} else {
			amountMap[key] = &AmountIndexEntry{Amount: txn.Amount, Transactions: []*models.BankTransaction{txn}}
		}
	}

	index.AmountRange = make([]*AmountIndexEntry, 0, len(amountMap))
	for _, entry := range amountMap {
		index.AmountRange = append(index.AmountRange, entry)
	}
	sort.Slice(index.AmountRange, func(i, j int) bool {
		return index.AmountRange[i].Amount.LessThan(index.AmountRange[j].Amount)
	})

	return index
}

// MentionsPolicy reports whether the transaction's memo or reference carries policy as a token
func (bi *BankIndex) MentionsPolicy(bankTxnID, policy string) bool {
	policy = models.NormalizePolicy(policy)
	if policy == "" {
		return false
	}
	return bi.tokens[bankTxnID][policy]
}

// InAmountRange returns transactions whose amount lies within tolerance of amount
func (bi *BankIndex) InAmountRange(amount, tolerance decimal.Decimal) []*models.BankTransaction {
	low := amount.Sub(tolerance)
	high := amount.Add(tolerance)

	start := sort.Search(len(bi.AmountRange), func(i int) bool {
		return bi.AmountRange[i].Amount.GreaterThanOrEqual(low)
	})

	var result []*models.BankTransaction
	for i := start; i < len(bi.AmountRange) && bi.AmountRange[i].Amount.LessThanOrEqual(high); i++ {
		result = append(result, bi.AmountRange[i].Transactions...)
	}
	return result
}

// InDateWindow returns transactions posted within days of date
func (bi *BankIndex) InDateWindow(date time.Time, days int) []*models.BankTransaction {
	if date.IsZero() {
		return nil
	}
	var result []*models.BankTransaction
	for offset := -days; offset <= days; offset++ {
		result = append(result, bi.ByDate[models.FormatDate(date.AddDate(0, 0, offset))]...)
	}
	return result
}

// Candidates returns the transactions worth scoring for a line, ordered by bank_txn_id.
// policies are the raw and overridden policy numbers of the line.
func (bi *BankIndex) Candidates(line *models.StatementLine, policies []string, cfg Config) []*models.BankTransaction {
	scope := cfg.searchScope()
	if scope == scopeAll {
		return bi.All
	}

	seen := make(map[string]bool)
	var result []*models.BankTransaction
	add := func(txns []*models.BankTransaction) {
		for _, txn := range txns {
			if !seen[txn.BankTxnID] {
				seen[txn.BankTxnID] = true
				result = append(result, txn)
			}
		}
	}

	for _, policy := range policies {
		add(bi.ByPolicy[models.NormalizePolicy(policy)])
	}
	add(bi.InAmountRange(line.GrossCommission, cfg.NearAmountTolerance))
	if scope == scopeDated {
		add(bi.InDateWindow(line.TxnDate, cfg.SoftDateDays))
		add(bi.InDateWindow(line.EffectiveDate, cfg.SoftDateDays))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].BankTxnID < result[j].BankTxnID
	})
	return result
}

// ExtractPolicyNumbers returns the normalized policy numbers found in text, in order of appearance
func ExtractPolicyNumbers(text string, pattern *regexp.Regexp) []string {
	if pattern == nil {
		return nil
	}
	matches := pattern.FindAllString(strings.ToUpper(text), -1)
	for i, m := range matches {
		matches[i] = models.NormalizePolicy(m)
	}
	return matches
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.FieldsFunc(strings.ToUpper(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '/' || r == '.')
	}) {
		set[strings.Trim(tok, ".")] = true
	}
	return set
}
