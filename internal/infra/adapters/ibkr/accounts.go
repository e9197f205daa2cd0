package ibkr

import (
	"strings"

	"github.com/tidwall/gjson"
)

// ParseAccountID extracts the first account id from an accounts reply. The broker
// answers with any of:
//
//	{"accounts": ["DU1", ...]}            or objects carrying accountId/id
//	{"accountId": "DU1"} / {"id": "DU1"}
//	[{"accountId": "DU1"}, ...]           or id instead of accountId
//	["DU1", "DU2"]
//
// Unrecognised shapes report ok=false.
func ParseAccountID(body []byte) (string, bool) {
	if !gjson.ValidBytes(body) {
		return "", false
	}
	root := gjson.ParseBytes(body)
	switch {
	case root.IsObject():
		if accounts := root.Get("accounts"); accounts.IsArray() {
			return firstAccount(accounts)
		}
		return accountFromObject(root)
	case root.IsArray():
		return firstAccount(root)
	default:
		return "", false
	}
}

func firstAccount(list gjson.Result) (string, bool) {
	for _, item := range list.Array() {
		switch {
		case item.Type == gjson.String:
			if id := strings.TrimSpace(item.String()); id != "" {
				return id, true
			}
		case item.IsObject():
			if id, ok := accountFromObject(item); ok {
				return id, true
			}
		}
	}
	return "", false
}

func accountFromObject(obj gjson.Result) (string, bool) {
	for _, key := range []string{"accountId", "id"} {
		v := obj.Get(key)
		if v.Type == gjson.String || v.Type == gjson.Number {
			if id := strings.TrimSpace(v.String()); id != "" {
				return id, true
			}
		}
	}
	return "", false
}

// IsPaperAccount reports whether the id carries the paper-trading prefix.
func IsPaperAccount(account string) bool {
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(account)), "DU")
}
