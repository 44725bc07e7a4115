package domain

import "errors"

var (
	// ErrNotFound は指定されたメッセージが存在しない場合のエラー。
	ErrNotFound = errors.New("message not found")

	// ErrUnauthenticated はアクターを解決できない場合のエラー。
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrForbidden は役割または所有者の条件を満たさない場合のエラー。
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidState は現在の状態が要求された遷移元と一致しない場合のエラー。
	ErrInvalidState = errors.New("invalid state")

	// ErrKeyNotFound は鍵ハンドルが KeyVault に存在しない場合のエラー。
	ErrKeyNotFound = errors.New("key not found")

	// ErrDecryptFailed は暗号文の完全性検証に失敗した場合のエラー。
	ErrDecryptFailed = errors.New("decrypt failed")

	// ErrContentUnavailable は本文を復元できなかった場合に外部へ返すエラー。
	ErrContentUnavailable = errors.New("could not recover content")

	// ErrCertificateNotFound はメッセージに証明書がまだ存在しない場合のエラー。
	ErrCertificateNotFound = errors.New("certificate not found")

	// ErrKeyAlreadyExists はメッセージに既に鍵が存在する場合のエラー。
	ErrKeyAlreadyExists = errors.New("key already exists")

	// ErrAlreadyCertified はメッセージに既に証明書が存在する場合のエラー。
	ErrAlreadyCertified = errors.New("message already certified")

	// ErrStorageFailure は永続化層など外部協調者の I/O エラー。再試行可能。
	ErrStorageFailure = errors.New("storage failure")

	// ErrInvalidAction は未知の操作が要求された場合のエラー。
	ErrInvalidAction = errors.New("invalid action")

	// ErrInvalidInput は入力値が不正な場合のエラー。
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidRole は役割の表記が不正な場合のエラー。
	ErrInvalidRole = errors.New("invalid role")
)
