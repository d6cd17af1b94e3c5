package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// InstallFields 描述一次安装缓存操作。
func InstallFields(action, key string, exact bool) logrus.Fields {
	return logrus.Fields{
		"action":      action,
		"install_key": key,
		"exact":       exact,
	}
}

// BundleFields 描述一次 bundle 缓存/编译操作。
func BundleFields(action, bundleType, key string, cacheHit bool) logrus.Fields {
	return logrus.Fields{
		"action":      action,
		"bundle_type": bundleType,
		"bundle_key":  key,
		"cache_hit":   cacheHit,
	}
}

// RequestFields 提供 bundle 请求的公共字段，供访问日志复用。
func RequestFields(bundleType, modules string, redirects int, requestID string) logrus.Fields {
	return logrus.Fields{
		"bundle_type": bundleType,
		"modules":     modules,
		"redirects":   redirects,
		"request_id":  requestID,
	}
}
