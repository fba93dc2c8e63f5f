package scanner

var tcpServices = map[uint16]string{
	20: "ftp-data", 21: "ftp", 22: "ssh", 23: "telnet", 25: "smtp", 53: "domain",
	80: "http", 88: "kerberos", 110: "pop3", 111: "rpcbind", 119: "nntp",
	135: "msrpc", 139: "netbios-ssn", 143: "imap", 179: "bgp", 389: "ldap",
	443: "https", 445: "microsoft-ds", 465: "smtps", 514: "shell", 515: "printer",
	548: "afp", 554: "rtsp", 587: "submission", 631: "ipp", 636: "ldaps",
	873: "rsync", 993: "imaps", 995: "pop3s", 1080: "socks", 1433: "ms-sql-s",
	1521: "oracle", 1723: "pptp", 1883: "mqtt", 2049: "nfs", 2181: "zookeeper",
	2375: "docker", 2379: "etcd-client", 3000: "ppp", 3306: "mysql",
	3389: "ms-wbt-server", 3690: "svn", 4369: "epmd", 5000: "upnp",
	5432: "postgresql", 5672: "amqp", 5900: "vnc", 5984: "couchdb",
	6379: "redis", 6443: "sun-sr-https", 6667: "irc", 8000: "http-alt",
	8080: "http-proxy", 8443: "https-alt", 8888: "sun-answerbook",
	9000: "cslistener", 9092: "kafka", 9090: "zeus-admin", 9200: "wap-wsp",
	11211: "memcache", 27017: "mongod",
}

var udpServices = map[uint16]string{
	53: "domain", 67: "dhcps", 68: "dhcpc", 69: "tftp", 123: "ntp",
	135: "msrpc", 137: "netbios-ns", 138: "netbios-dgm", 161: "snmp",
	162: "snmptrap", 500: "isakmp", 514: "syslog", 520: "route",
	623: "asf-rmcp", 1194: "openvpn", 1434: "ms-sql-m", 1900: "upnp",
	4500: "nat-t-ike", 5060: "sip", 5353: "zeroconf", 11211: "memcache",
}

// ServiceName returns the well-known service registered for a port, or "".
func ServiceName(proto Protocol, port uint16) string {
	if proto == UDP {
		return udpServices[port]
	}
	return tcpServices[port]
}
