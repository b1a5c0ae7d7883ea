package i18n

const (
	PluginInfoName        = "plugin.answer_uma_provider.backend.info.name"
	PluginInfoDescription = "plugin.answer_uma_provider.backend.info.description"

	ConfigIssuerTitle               = "plugin.answer_uma_provider.backend.config.issuer.title"
	ConfigIssuerDescription         = "plugin.answer_uma_provider.backend.config.issuer.description"
	ConfigBasePathTitle             = "plugin.answer_uma_provider.backend.config.base_path.title"
	ConfigBasePathDescription       = "plugin.answer_uma_provider.backend.config.base_path.description"
	ConfigConsentURLTitle           = "plugin.answer_uma_provider.backend.config.consent_url.title"
	ConfigConsentURLDescription     = "plugin.answer_uma_provider.backend.config.consent_url.description"
	ConfigAccessTTLTitle            = "plugin.answer_uma_provider.backend.config.access_ttl.title"
	ConfigAccessTTLDescription      = "plugin.answer_uma_provider.backend.config.access_ttl.description"
	ConfigIDTTLTitle                = "plugin.answer_uma_provider.backend.config.id_ttl.title"
	ConfigIDTTLDescription          = "plugin.answer_uma_provider.backend.config.id_ttl.description"
	ConfigRefreshTTLTitle           = "plugin.answer_uma_provider.backend.config.refresh_ttl.title"
	ConfigRefreshTTLDescription     = "plugin.answer_uma_provider.backend.config.refresh_ttl.description"
	ConfigCodeTTLTitle              = "plugin.answer_uma_provider.backend.config.code_ttl.title"
	ConfigCodeTTLDescription        = "plugin.answer_uma_provider.backend.config.code_ttl.description"
	ConfigTicketTTLTitle            = "plugin.answer_uma_provider.backend.config.ticket_ttl.title"
	ConfigTicketTTLDescription      = "plugin.answer_uma_provider.backend.config.ticket_ttl.description"
	ConfigDeviceTTLTitle            = "plugin.answer_uma_provider.backend.config.device_ttl.title"
	ConfigDeviceTTLDescription      = "plugin.answer_uma_provider.backend.config.device_ttl.description"
	ConfigDeviceIntervalTitle       = "plugin.answer_uma_provider.backend.config.device_interval.title"
	ConfigDeviceIntervalDescription = "plugin.answer_uma_provider.backend.config.device_interval.description"
	ConfigPrivateKeyTitle           = "plugin.answer_uma_provider.backend.config.private_key.title"
	ConfigPrivateKeyDescription     = "plugin.answer_uma_provider.backend.config.private_key.description"
	ConfigDefaultScopesTitle        = "plugin.answer_uma_provider.backend.config.default_scopes.title"
	ConfigDefaultScopesDesc         = "plugin.answer_uma_provider.backend.config.default_scopes.description"
)
