package repository

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrStorageUnavailable = errors.New("存储不可用")
	ErrAdNotFound         = errors.New("广告不存在")
	ErrAdStatusInvalid    = errors.New("广告状态不合法")
	ErrPackageNotFound    = errors.New("代币套餐不存在")
)

// StorageErr 把驱动层错误统一包装为 ErrStorageUnavailable，保留原始错误链
func StorageErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStorageUnavailable, err)
}
