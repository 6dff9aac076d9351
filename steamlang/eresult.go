package steamlang

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

type EResult int

// Only the results the trade offer and confirmation endpoints are known to answer with are named here.
//
//goland:noinspection GoUnusedConst
const (
	InvalidResult               EResult = 0
	OKResult                    EResult = 1
	FailResult                  EResult = 2
	NoConnectionResult          EResult = 3
	InvalidPasswordResult       EResult = 5
	LoggedInElsewhereResult     EResult = 6
	InvalidParamResult          EResult = 8
	FileNotFoundResult          EResult = 9
	BusyResult                  EResult = 10
	InvalidStateResult          EResult = 11
	AccessDeniedResult          EResult = 15
	TimeoutResult               EResult = 16
	BannedResult                EResult = 17
	InvalidSteamIDResult        EResult = 19
	ServiceUnavailableResult    EResult = 20
	NotLoggedOnResult           EResult = 21
	PendingResult               EResult = 22
	LimitExceededResult         EResult = 25
	RevokedResult               EResult = 26
	ExpiredResult               EResult = 27
	DuplicateRequestResult      EResult = 29
	IOFailureResult             EResult = 37
	RemoteDisconnectResult      EResult = 38
	TryAnotherCMResult          EResult = 48
	RemoteCallFailedResult      EResult = 55
	RateLimitExceededResult     EResult = 84
	ItemOrEntryHasBeenDeleted   EResult = 86
	TwoFactorCodeMismatchResult EResult = 88
	TimeNotSyncedResult         EResult = 93
	TooManyPendingResult        EResult = 108
)

// Transient reports whether retrying the same request later may succeed.
func (r EResult) Transient() bool {
	switch r {
	case NoConnectionResult, BusyResult, TimeoutResult, ServiceUnavailableResult, PendingResult,
		IOFailureResult, RemoteDisconnectResult, TryAnotherCMResult, RemoteCallFailedResult,
		RateLimitExceededResult, TimeNotSyncedResult:
		return true
	}
	return false
}

// Fatal reports whether the result means the credentials in use can no longer act for the account.
func (r EResult) Fatal() bool {
	switch r {
	case InvalidPasswordResult, LoggedInElsewhereResult, NotLoggedOnResult, RevokedResult, ExpiredResult,
		BannedResult, TwoFactorCodeMismatchResult:
		return true
	}
	return false
}

// ResultError is a non-OK X-Eresult answer from steam.
type ResultError struct {
	Result   EResult
	Messages []string
}

func (e *ResultError) Error() string {
	if len(e.Messages) > 0 {
		return fmt.Sprintf("steam responded with non-OK Result: %v, %s", e.Result, strings.Join(e.Messages, "; "))
	}
	return fmt.Sprintf("steam responded with non-OK Result: %v", e.Result)
}

// StatusError is a non-2xx HTTP answer from steam.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("steam responded with status %d", e.StatusCode)
}

func EnsureSuccessResponse(response *http.Response) error {
	if response.StatusCode < 200 || response.StatusCode >= 300 {
		return &StatusError{StatusCode: response.StatusCode}
	}

	return nil
}

func EnsureEResultResponse(httpResponse *http.Response) error {
	eResults := httpResponse.Header.Values("X-Eresult")
	if len(eResults) == 0 {
		return nil
	}

	eResult := InvalidResult
	for _, result := range eResults {
		if parsedResult, parseErr := strconv.ParseInt(result, 10, 64); parseErr == nil {
			eResult = EResult(parsedResult)
			break
		}
	}

	if eResult == OKResult {
		return nil
	}

	return &ResultError{
		Result:   eResult,
		Messages: httpResponse.Header.Values("X-Error_message"),
	}
}
