package ledger

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
	AccountScopeExternal
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	// User sub-types
	SubTypeWallet AccountSubType = iota
	SubTypeStaked
	SubTypeReward

	// System sub-types
	SubTypeSystemRewardIssuance

	// External sub-types
	SubTypeExternalDeposits
)

// AssetID maps asset strings to numeric IDs for performance
type AssetID uint16

const (
	AssetStake  = "ECO"  // staked token
	AssetReward = "SPRT" // reward token
)

var (
	assetToID = map[string]AssetID{
		AssetStake:  1,
		AssetReward: 2,
	}
	idToAsset = map[AssetID]string{
		1: AssetStake,
		2: AssetReward,
	}
)

func GetAssetID(asset string) (AssetID, bool) {
	id, ok := assetToID[asset]
	return id, ok
}

func GetAssetName(id AssetID) (string, bool) {
	name, ok := idToAsset[id]
	return name, ok
}

// StakeAssetID and RewardAssetID are resolved once; both assets are fixed.
var (
	StakeAssetID  = assetToID[AssetStake]
	RewardAssetID = assetToID[AssetReward]
)

// AccountKey is the in-memory key for balance tracking
type AccountKey struct {
	Scope    AccountScope
	EntityID [16]byte // UUID for users, zero for system and external accounts
	SubType  AccountSubType
	AssetID  AssetID
}

// NewUserAccountKey creates a key for user accounts
func NewUserAccountKey(userID uuid.UUID, subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:    AccountScopeUser,
		EntityID: userID,
		SubType:  subType,
		AssetID:  assetID,
	}
}

// NewSystemAccountKey creates a key for system accounts
func NewSystemAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
		AssetID: assetID,
	}
}

// NewExternalAccountKey creates a key for external boundary accounts
func NewExternalAccountKey(subType AccountSubType, assetID AssetID) AccountKey {
	return AccountKey{
		Scope:   AccountScopeExternal,
		SubType: subType,
		AssetID: assetID,
	}
}

// UserID returns the owning user for user-scoped keys.
func (k AccountKey) UserID() (uuid.UUID, bool) {
	if k.Scope != AccountScopeUser {
		return uuid.Nil, false
	}
	return uuid.UUID(k.EntityID), true
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	assetName, _ := GetAssetName(k.AssetID)

	switch k.Scope {
	case AccountScopeUser:
		uid := uuid.UUID(k.EntityID)
		return fmt.Sprintf("user:%s:%s:%s", uid.String(), k.subTypeName(), assetName)
	case AccountScopeSystem:
		return fmt.Sprintf("system:%s:%s", k.subTypeName(), assetName)
	case AccountScopeExternal:
		return fmt.Sprintf("external:%s:%s", k.subTypeName(), assetName)
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeStaked:
		return "staked"
	case SubTypeReward:
		return "reward"
	case SubTypeSystemRewardIssuance:
		return "reward_issuance"
	case SubTypeExternalDeposits:
		return "deposits"
	default:
		return "unknown"
	}
}

var subTypeByName = map[string]AccountSubType{
	"wallet":          SubTypeWallet,
	"staked":          SubTypeStaked,
	"reward":          SubTypeReward,
	"reward_issuance": SubTypeSystemRewardIssuance,
	"deposits":        SubTypeExternalDeposits,
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	parts := strings.Split(path, ":")

	switch {
	case len(parts) == 4 && parts[0] == "user":
		uid, err := uuid.Parse(parts[1])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		subType, assetID, err := parseSubTypeAsset(parts[2], parts[3])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		return NewUserAccountKey(uid, subType, assetID), nil

	case len(parts) == 3 && parts[0] == "system":
		subType, assetID, err := parseSubTypeAsset(parts[1], parts[2])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		return NewSystemAccountKey(subType, assetID), nil

	case len(parts) == 3 && parts[0] == "external":
		subType, assetID, err := parseSubTypeAsset(parts[1], parts[2])
		if err != nil {
			return AccountKey{}, fmt.Errorf("account path %q: %w", path, err)
		}
		return NewExternalAccountKey(subType, assetID), nil
	}

	return AccountKey{}, fmt.Errorf("malformed account path %q", path)
}

func parseSubTypeAsset(subTypeName, assetName string) (AccountSubType, AssetID, error) {
	subType, ok := subTypeByName[subTypeName]
	if !ok {
		return 0, 0, fmt.Errorf("unknown sub-type %q", subTypeName)
	}
	assetID, ok := GetAssetID(assetName)
	if !ok {
		return 0, 0, fmt.Errorf("unknown asset %q", assetName)
	}
	return subType, assetID, nil
}
