package service

import (
	"context"
	"errors"

	"tokenledger/internal/intent"
	"tokenledger/internal/repository"
)

var (
	ErrInsufficientBalance       = errors.New("代币余额不足")
	ErrAdNotFound                = repository.ErrAdNotFound
	ErrAdNotPending              = errors.New("广告不处于待支付状态")
	ErrPackageNotFound           = repository.ErrPackageNotFound
	ErrStorageUnavailable        = repository.ErrStorageUnavailable
	ErrExpiredOrMismatchedIntent = intent.ErrExpiredOrMismatchedIntent
	ErrInvalidArgument           = errors.New("参数错误")
	ErrTransactionOwnerMismatch  = errors.New("网关交易号属于其他用户")
)

var businessErrors = []error{
	ErrInsufficientBalance,
	ErrAdNotFound,
	ErrAdNotPending,
	ErrPackageNotFound,
	ErrInvalidArgument,
	ErrTransactionOwnerMismatch,
}

// IsBusinessError 业务结果类错误，不需要重试
func IsBusinessError(err error) bool {
	for _, target := range businessErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// boundaryErr 事务边界外的错误归类：业务错误原样返回，其余视为存储不可用
func boundaryErr(err error) error {
	if err == nil || IsBusinessError(err) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return repository.StorageErr(err)
}
