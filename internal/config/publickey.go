package config

// embeddedLicensePublicKey is the production license signing public key.
// Rotations ship as a new release; FORGE_LICENSE_PUBLIC_KEY_PATH overrides
// it for staging.
const embeddedLicensePublicKey = `-----BEGIN PUBLIC KEY-----
MIIBIjANBgkqhkiG9w0BAQEFAAOCAQ8AMIIBCgKCAQEA1ELomjd4Iqi/vvH5tc5h
wHq/T18qJz+Q8Npm6uW3vsrekvyJN8SQ5DeLmAoMc2Hw08on/e0Dkt5esbMAli2U
A2QJvVNYKaxXMB3/8HvyKT997SwAXQjydV30+1lnowngDt8WxRbd5/Q4jUDMmUX3
5g+bk5P21D8YPmdiHIWnFYr+6bg9dtMlOB53QoRhEUYtF8Wg4mTGs44hDEeUE6b4
dxXAVFbwnSOGxNlDnxZObBKz1z6NVhmEvy4Uosac60m9Xe5WZ3WPw93wxB/7kW4S
skVUqqerjc3lNnJiJvBk1duNaOd/N93PaZDNQUcCk2hrkDHpfshvQd3ESAcKZmmr
2QIDAQAB
-----END PUBLIC KEY-----
`
