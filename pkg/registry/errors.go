package registry

import "errors"

var (
	// ErrServiceNotFound 表示服务名下没有任何实例。
	// 发现失败不一定是致命错误，是否中止由调用方决定。
	ErrServiceNotFound = errors.New("服务未找到")

	// ErrInstanceNotFound 表示指定地址的实例不存在
	ErrInstanceNotFound = errors.New("服务实例未找到")
)
