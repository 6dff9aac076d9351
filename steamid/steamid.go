package steamid

import (
	"errors"
	"strconv"

	"github.com/rotisserie/eris"
)

type Universe uint
type Type uint
type Instance uint

//goland:noinspection GoUnusedConst
const (
	UniverseInvalid Universe = iota
	UniversePublic
	UniverseBeta
	UniverseInternal
	UniverseDev
)

//goland:noinspection GoUnusedConst
const (
	TypeInvalid Type = iota
	TypeIndividual
	TypeMultiseat
	TypeGameServer
	TypeAnonGameServer
	TypePending
	TypeContentServer
	TypeClan
	TypeChat
	TypeP2pSuperSeeder
	TypeAnonUser
)

//goland:noinspection GoUnusedConst
const (
	InstanceAll Instance = iota
	InstanceDesktop
	InstanceConsole
	InstanceWeb
)

const (
	AccountIDMask       uint64 = 0xFFFFFFFF
	AccountInstanceMask uint64 = 0x000FFFFF
	AccountTypeMask     uint64 = 0xF
)

var (
	ErrorEmpty = errors.New("can't parse empty string as SteamID64")
	ErrorZero  = errors.New("SteamID64 must not be zero")
)

// SteamID is a decoded 64 bit steam account identifier. Offers only carry the 32 bit account id of the partner,
// so FromAccountID rebuilds the public individual form.
type SteamID struct {
	value uint64
}

func ParseSteamID64(s string) (SteamID, error) {
	if s == "" {
		return SteamID{}, ErrorEmpty
	}

	parsedID, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return SteamID{}, eris.Wrapf(err, "can't parse steamID into int64")
	}

	return FromUint64(parsedID)
}

func FromUint64(value uint64) (SteamID, error) {
	if value == 0 {
		return SteamID{}, ErrorZero
	}
	return SteamID{value: value}, nil
}

// FromAccountID builds the public desktop individual SteamID for a 32 bit account id.
func FromAccountID(accountID uint32) SteamID {
	value := uint64(UniversePublic)<<56 |
		uint64(TypeIndividual)<<52 |
		uint64(InstanceDesktop)<<32 |
		uint64(accountID)
	return SteamID{value: value}
}

func (id SteamID) Uint64() uint64 {
	return id.value
}

func (id SteamID) String() string {
	return strconv.FormatUint(id.value, 10)
}

func (id SteamID) AccountId() uint32 {
	return uint32(id.value & AccountIDMask)
}

func (id SteamID) Instance() Instance {
	return Instance((id.value >> 32) & AccountInstanceMask)
}

func (id SteamID) Type() Type {
	return Type((id.value >> 52) & AccountTypeMask)
}

func (id SteamID) Universe() Universe {
	return Universe(id.value >> 56)
}

func (id SteamID) IsZero() bool {
	return id.value == 0
}

func (id SteamID) IsValid() bool {
	accountID := id.AccountId()
	switch idType, universe, instance := id.Type(), id.Universe(), id.Instance(); {
	case idType <= TypeInvalid || idType > TypeAnonUser:
		return false
	case universe <= UniverseInvalid || universe > UniverseDev:
		return false
	case idType == TypeIndividual && (accountID == 0 || instance > InstanceWeb):
		return false
	case idType == TypeClan && (accountID == 0 || instance != InstanceAll):
		return false
	case idType == TypeGameServer && accountID == 0:
		return false
	}

	return true
}

func (id SteamID) IsValidIndividual() bool {
	return id.Universe() == UniversePublic &&
		id.Type() == TypeIndividual &&
		id.Instance() == InstanceDesktop &&
		id.AccountId() != 0
}
