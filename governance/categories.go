package governance

import (
	"fmt"
	"strconv"
	"strings"
)

// Category is a pausable marketplace operation.
type Category uint8

const (
	CategoryCreateRentable Category = iota
	CategoryCreateSellable
	CategoryBorrow
	CategoryReturn
	CategoryPurchase
)

var categoryNames = map[Category]string{
	CategoryCreateRentable: "create-rentable",
	CategoryCreateSellable: "create-sellable",
	CategoryBorrow:         "borrow",
	CategoryReturn:         "return",
	CategoryPurchase:       "purchase",
}

// Categories lists every pausable operation in on-chain order.
func Categories() []Category {
	return []Category{CategoryCreateRentable, CategoryCreateSellable, CategoryBorrow, CategoryReturn, CategoryPurchase}
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "category-" + strconv.Itoa(int(c))
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	_, ok := categoryNames[c]
	return ok
}

func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("governance: unknown category %d", c)
	}
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseCategory accepts a category name ("borrow", "create_rentable") or its
// on-chain number.
func ParseCategory(value string) (Category, error) {
	normalized := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(value)), "_", "-")
	for c, name := range categoryNames {
		if name == normalized || strings.ReplaceAll(name, "-", "") == normalized {
			return c, nil
		}
	}
	if n, err := strconv.ParseUint(normalized, 10, 8); err == nil && Category(n).Valid() {
		return Category(n), nil
	}
	return 0, fmt.Errorf("governance: unknown category %q", value)
}

// ChangeType is the admin-set change a proposal carries.
type ChangeType uint8

const (
	ChangeAddAdmin ChangeType = iota
	ChangeRemoveAdmin
)

func (t ChangeType) String() string {
	switch t {
	case ChangeAddAdmin:
		return "AddAdmin"
	case ChangeRemoveAdmin:
		return "RemoveAdmin"
	default:
		return "ChangeType(" + strconv.Itoa(int(t)) + ")"
	}
}

func (t ChangeType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ParseChangeType accepts "add-admin", "AddAdmin", "remove-admin" and friends.
func ParseChangeType(value string) (ChangeType, error) {
	switch strings.NewReplacer("-", "", "_", "").Replace(strings.ToLower(strings.TrimSpace(value))) {
	case "addadmin", "add":
		return ChangeAddAdmin, nil
	case "removeadmin", "remove":
		return ChangeRemoveAdmin, nil
	}
	return 0, fmt.Errorf("governance: unknown change type %q", value)
}

// ProposalState is derived from the executed and rejected flags.
type ProposalState string

const (
	StateProposed ProposalState = "Proposed"
	StateExecuted ProposalState = "Executed"
	StateRejected ProposalState = "Rejected"
)

func stateOf(executed, rejected bool) ProposalState {
	switch {
	case executed:
		return StateExecuted
	case rejected:
		return StateRejected
	default:
		return StateProposed
	}
}
